// 包 catalog：数据集目录与按需加载
// 背景：参考数据集（taluka 列表、taluka→village 映射）在会话开始时加载一次；
// 村级数据集在首次选中该村时才拉取，之后在会话内常驻，不做淘汰。
package catalog

import (
	"regexp"
)

// Column：目标表的一列
type Column struct {
	Name string
	Type string // TEXT | INTEGER | BLOB
}

// Dataset：一个按需加载的具名数据集
// 约束：Table 为引擎中的表名，只能由 [A-Za-z0-9_-] 组成；Files 按优先级排列
type Dataset struct {
	Table   string
	Files   []string
	Columns []Column
}

const (
	TalukasTable = "talukas"
	MappingTable = "mapping"
)

// GeometryColumn：村级数据集中存放 WKB 的列
const GeometryColumn = "geometry"

var unsafeKey = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeKey：将村名转换为可作为表名的键，非 [A-Za-z0-9_-] 字符替换为下划线
func SanitizeKey(name string) string {
	return unsafeKey.ReplaceAllString(name, "_")
}

// VillageTable：村级数据集表名
func VillageTable(village string) string {
	return "village_" + SanitizeKey(village)
}

func TalukasDataset() Dataset {
	return Dataset{
		Table: TalukasTable,
		Files: []string{"talukas.csv"},
		Columns: []Column{
			{Name: "taluka", Type: "TEXT"},
			{Name: "village_count", Type: "INTEGER"},
		},
	}
}

func MappingDataset() Dataset {
	return Dataset{
		Table: MappingTable,
		Files: []string{"taluka_village_mapping.csv"},
		Columns: []Column{
			{Name: "taluka", Type: "TEXT"},
			{Name: "village", Type: "TEXT"},
		},
	}
}

// VillageDataset：某村的地块数据集，优先 GeoJSON，其次 CSV（geometry 为十六进制 WKB）
func VillageDataset(village string) Dataset {
	return Dataset{
		Table: VillageTable(village),
		Files: []string{village + ".geojson", village + ".csv"},
		Columns: []Column{
			{Name: "taluka", Type: "TEXT"},
			{Name: "village", Type: "TEXT"},
			{Name: "survey", Type: "TEXT"},
			{Name: "subdiv", Type: "TEXT"},
			{Name: GeometryColumn, Type: "BLOB"},
		},
	}
}
