package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const tempTopicPrefix = "temp-"

// ErrTopicRefUnsaved 表示引用的是一个未持久化的话题。
// 临时键只用于把生成内容回显给调用方，绝不能作为后续阶段的主键：
// 它意味着落库失败，流程必须在此打住。
var ErrTopicRefUnsaved = errors.New("topic has not been saved")

// TopicRef 标识一个候选话题：要么已持久化（携带正式 ID），
// 要么未保存（只有临时键）。"能否进入下游阶段"由类型回答，
// 而不是靠解析字符串前缀。
type TopicRef struct {
	id      uint
	tempKey string
}

// SavedTopicRef 构造指向已持久化话题的引用。
func SavedTopicRef(id uint) TopicRef {
	return TopicRef{id: id}
}

// NewUnsavedTopicRef 为落库失败的候选生成临时引用。
func NewUnsavedTopicRef() TopicRef {
	return TopicRef{tempKey: uuid.NewString()}
}

// Saved 返回正式 ID；第二个返回值为 false 时该引用不可用于下游。
func (r TopicRef) Saved() (uint, bool) {
	if r.id == 0 {
		return 0, false
	}
	return r.id, true
}

// String 输出线格式：正式 ID 为十进制数字，临时键带 temp- 前缀。
func (r TopicRef) String() string {
	if r.id != 0 {
		return strconv.FormatUint(uint64(r.id), 10)
	}
	return tempTopicPrefix + r.tempKey
}

// ParseTopicRef 从线格式还原引用。临时键合法但不可保存使用；
// 其他非数字输入视为非法。
func ParseTopicRef(raw string) (TopicRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TopicRef{}, errors.New("topic ref is empty")
	}

	if strings.HasPrefix(trimmed, tempTopicPrefix) {
		key := strings.TrimPrefix(trimmed, tempTopicPrefix)
		if key == "" {
			return TopicRef{}, errors.New("temporary topic ref is empty")
		}
		return TopicRef{tempKey: key}, nil
	}

	id, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil || id == 0 {
		return TopicRef{}, fmt.Errorf("invalid topic ref %q", raw)
	}
	return TopicRef{id: uint(id)}, nil
}
