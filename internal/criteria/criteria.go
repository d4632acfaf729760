// 包 criteria：批量检索条件文件的解析与模板
// 格式：首行为表头，必须包含 village 列；survey / subdiv 列可选；其后每行一个条件
package criteria

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrTooFewLines          = errors.New("CSV must have at least a header row and one data row")
	ErrMissingVillageColumn = errors.New(`CSV must have a "village" column`)
	// ErrNoCriteria：表头有效但没有任何可用行
	ErrNoCriteria = errors.New("No valid data found in CSV")
)

// Criterion：一次检索的条件；village 必填
type Criterion struct {
	Village string `json:"village" validate:"required,max=200"`
	Survey  string `json:"survey,omitempty" validate:"max=100"`
	Subdiv  string `json:"subdiv,omitempty" validate:"max=100"`
}

func (c Criterion) String() string {
	return c.Village + "/" + c.Survey + "/" + c.Subdiv
}

// validate：包内共享的校验器实例
var validate = validator.New()

// Validate：结构校验
func (c Criterion) Validate() error {
	return validate.Struct(c)
}

// Parse：解析条件文件正文
// 约束：字段数少于表头的行、village 为空的行直接跳过；字段两端空白去除；
// 行内容不在此处校验，由检索时逐条校验并按单条失败处理
func Parse(text string) ([]Criterion, error) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if len(strings.Split(text, "\n")) < 2 {
		return nil, ErrTooFewLines
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	villageIdx, surveyIdx, subdivIdx := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "village":
			if villageIdx < 0 {
				villageIdx = i
			}
		case "survey":
			if surveyIdx < 0 {
				surveyIdx = i
			}
		case "subdiv":
			if subdivIdx < 0 {
				subdivIdx = i
			}
		}
	}
	if villageIdx < 0 {
		return nil, ErrMissingVillageColumn
	}

	var out []Criterion
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < len(header) {
			continue
		}
		c := Criterion{Village: strings.TrimSpace(rec[villageIdx])}
		if c.Village == "" {
			continue
		}
		if surveyIdx >= 0 {
			c.Survey = strings.TrimSpace(rec[surveyIdx])
		}
		if subdivIdx >= 0 {
			c.Subdiv = strings.TrimSpace(rec[subdivIdx])
		}
		out = append(out, c)
	}
	return out, nil
}

// TemplateFileName：模板下载文件名
const TemplateFileName = "cadastral_search_template.csv"

const template = `village,survey,subdiv
Panaji,123,A
Margao,456,B
Vasco,789,C`

// Template：三列示例条件文件
func Template() string { return template }
