package handler

import (
	"errors"
	"net/http"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// StreamOutline 为话题流式生成大纲，以 SSE 推送生成事件
func (a *API) StreamOutline(c *gin.Context) {
	topicID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的话题 ID")
		return
	}

	var input service.OutlineInput
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &input, "请求格式不正确") {
			return
		}
	}
	input.TopicID = topicID
	userID := currentUserID(c)
	ctx := c.Request.Context()

	streamEvents(c, func(sink service.EventSink) error {
		_, err := a.outlines.Generate(ctx, userID, input, sink)
		return err
	})
}

// GenerateOutline 同步生成大纲，阻塞到生成完成后返回最终结果
func (a *API) GenerateOutline(c *gin.Context) {
	topicID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的话题 ID")
		return
	}

	var input service.OutlineInput
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &input, "请求格式不正确") {
			return
		}
	}
	input.TopicID = topicID

	outline, err := a.outlines.Generate(c.Request.Context(), currentUserID(c), input, nil)
	if err != nil {
		if errors.Is(err, service.ErrTopicNotFound) {
			respondError(c, http.StatusNotFound, "话题不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "大纲生成失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, outline)
}

// GetOutline 返回单个大纲
func (a *API) GetOutline(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的大纲 ID")
		return
	}

	outline, err := a.outlines.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrOutlineNotFound) {
			respondError(c, http.StatusNotFound, "大纲不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "读取大纲失败")
		return
	}
	c.JSON(http.StatusOK, outline)
}

// ApproveOutline 批准大纲，放行草稿阶段
func (a *API) ApproveOutline(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的大纲 ID")
		return
	}

	outline, err := a.outlines.Approve(id)
	if err != nil {
		if errors.Is(err, service.ErrOutlineNotFound) {
			respondError(c, http.StatusNotFound, "大纲不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, outline)
}

type draftRequest struct {
	Site string `json:"site"`
}

// StreamDraft 按已批准的大纲流式撰写草稿
func (a *API) StreamDraft(c *gin.Context) {
	outlineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的大纲 ID")
		return
	}

	var req draftRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req, "请求格式不正确") {
			return
		}
	}
	userID := currentUserID(c)
	ctx := c.Request.Context()

	streamEvents(c, func(sink service.EventSink) error {
		_, err := a.writer.Generate(ctx, userID, service.DraftInput{OutlineID: outlineID, Site: req.Site}, sink)
		return err
	})
}

// GenerateDraft 同步撰写草稿。生成成功但落库失败时仍返回 200，
// 由 saved 字段指明内容未持久化。
func (a *API) GenerateDraft(c *gin.Context) {
	outlineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的大纲 ID")
		return
	}

	var req draftRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req, "请求格式不正确") {
			return
		}
	}

	saved := true
	sink := func(event service.GenerationEvent) {
		if event.Type == service.EventComplete && event.Saved != nil {
			saved = *event.Saved
		}
	}

	article, err := a.writer.Generate(c.Request.Context(), currentUserID(c), service.DraftInput{OutlineID: outlineID, Site: req.Site}, sink)
	if err != nil {
		if errors.Is(err, service.ErrOutlineNotFound) {
			respondError(c, http.StatusNotFound, "大纲不存在")
			return
		}
		if errors.Is(err, service.ErrOutlineNotApproved) {
			respondError(c, http.StatusBadRequest, "大纲尚未批准")
			return
		}
		respondError(c, http.StatusInternalServerError, "草稿生成失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"article": article, "saved": saved})
}
