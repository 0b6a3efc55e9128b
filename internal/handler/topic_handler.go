package handler

import (
	"errors"
	"net/http"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// Research 执行一轮选题研究，返回带查重标注的候选列表
func (a *API) Research(c *gin.Context) {
	var input service.ResearchInput
	if !bindJSON(c, &input, "请求格式不正确") {
		return
	}

	candidates, err := a.research.Discover(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		if errors.Is(err, service.ErrNicheRequired) {
			respondError(c, http.StatusBadRequest, "请填写利基领域")
			return
		}
		if errors.Is(err, service.ErrAIAPIKeyMissing) {
			respondError(c, http.StatusBadRequest, "请先在系统设置中配置 AI API Key")
			return
		}
		respondError(c, http.StatusInternalServerError, "选题研究失败: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// GetTopics 返回话题列表，可按状态过滤
func (a *API) GetTopics(c *gin.Context) {
	topics, err := a.research.ListTopics(c.Query("status"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取话题列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// GetTopic 返回单个话题
func (a *API) GetTopic(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的话题 ID")
		return
	}

	topic, err := a.research.GetTopic(id)
	if err != nil {
		if errors.Is(err, service.ErrTopicNotFound) {
			respondError(c, http.StatusNotFound, "话题不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "读取话题失败")
		return
	}
	c.JSON(http.StatusOK, topic)
}

type topicStatusRequest struct {
	Status string `json:"status"`
}

// UpdateTopicStatus 更新话题状态（approved/rejected）
func (a *API) UpdateTopicStatus(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的话题 ID")
		return
	}

	var req topicStatusRequest
	if !bindJSON(c, &req, "请求格式不正确") {
		return
	}

	topic, err := a.research.UpdateTopicStatus(id, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrTopicNotFound) {
			respondError(c, http.StatusNotFound, "话题不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, topic)
}
