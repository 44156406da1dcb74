package index

import "fmt"

// MatchesFilters 判断一条元数据是否精确满足全部过滤条件。
// 元数据缺少被过滤的键时视为不匹配。
func MatchesFilters(metadata map[string]interface{}, filters []MetadataFilter) bool {
	for _, f := range filters {
		v, ok := metadata[f.Key]
		if !ok {
			return false
		}
		if f.Equals != nil {
			// 数值做跨类型比较（JSON 反序列化后整数常变成 float64）
			fv, fok := toFloat(f.Equals)
			vv, vok := toFloat(v)
			if fok && vok {
				if fv != vv {
					return false
				}
			} else if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", f.Equals) {
				return false
			}
		}
		if f.Min != nil || f.Max != nil {
			num, ok := toFloat(v)
			if !ok {
				return false
			}
			if f.Min != nil && num < *f.Min {
				return false
			}
			if f.Max != nil && num > *f.Max {
				return false
			}
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
