package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLite 没有原生的数组/向量列，下面的类型把结构化字段序列化成 JSON 文本存储。

// Vector 是定长浮点向量，保存文本的语义 embedding。
// 生成后不会被修改；源文本变化时整体重新生成。
type Vector []float64

// Value 实现 driver.Valuer。
func (v Vector) Value() (driver.Value, error) {
	return jsonColumnValue(v)
}

// Scan 实现 sql.Scanner。
func (v *Vector) Scan(value interface{}) error {
	return jsonColumnScan(value, v)
}

// StringList 以 JSON 数组形式存储字符串列表（关键词等）。
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return jsonColumnValue(l)
}

func (l *StringList) Scan(value interface{}) error {
	return jsonColumnScan(value, l)
}

// TopicSource 记录调研阶段引用的外部来源。
type TopicSource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// TopicSourceList 以 JSON 数组形式存储来源列表。
type TopicSourceList []TopicSource

func (l TopicSourceList) Value() (driver.Value, error) {
	return jsonColumnValue(l)
}

func (l *TopicSourceList) Scan(value interface{}) error {
	return jsonColumnScan(value, l)
}

// SimilarTopic 记录候选话题的近邻，供调用方人工判断。
type SimilarTopic struct {
	TopicID    uint    `json:"topicId"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// SimilarTopicList 以 JSON 数组形式存储近邻标注。
type SimilarTopicList []SimilarTopic

func (l SimilarTopicList) Value() (driver.Value, error) {
	return jsonColumnValue(l)
}

func (l *SimilarTopicList) Scan(value interface{}) error {
	return jsonColumnScan(value, l)
}

// OutlineSection 是大纲的一节：标题、要点与目标字数。
type OutlineSection struct {
	Heading    string   `json:"heading"`
	KeyPoints  []string `json:"keyPoints,omitempty"`
	WordTarget int      `json:"wordTarget"`
}

// OutlineSectionList 以 JSON 数组形式存储有序章节。
type OutlineSectionList []OutlineSection

func (l OutlineSectionList) Value() (driver.Value, error) {
	return jsonColumnValue(l)
}

func (l *OutlineSectionList) Scan(value interface{}) error {
	return jsonColumnScan(value, l)
}

func jsonColumnValue(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(raw), nil
}

func jsonColumnScan(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}

	switch raw := value.(type) {
	case []byte:
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, dst)
	case string:
		if raw == "" {
			return nil
		}
		return json.Unmarshal([]byte(raw), dst)
	default:
		return errors.New("unsupported source type for json column")
	}
}
