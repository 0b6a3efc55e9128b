package handler

import (
	"errors"
	"net/http"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// GetArticles 返回文章列表，可按状态与发布面过滤
func (a *API) GetArticles(c *gin.Context) {
	articles, err := a.articles.List(c.Query("status"), c.Query("site"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取文章列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles})
}

// GetArticle 返回单篇文章
func (a *API) GetArticle(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	article, err := a.articles.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "读取文章失败")
		return
	}
	c.JSON(http.StatusOK, article)
}

type articleStatusRequest struct {
	Status string `json:"status"`
}

// UpdateArticleStatus 更新文章状态（draft/review/published）
func (a *API) UpdateArticleStatus(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	var req articleStatusRequest
	if !bindJSON(c, &req, "请求格式不正确") {
		return
	}

	article, err := a.articles.UpdateStatus(id, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, article)
}

// GetArticleVersions 返回文章的版本历史
func (a *API) GetArticleVersions(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	versions, err := a.articles.ListVersions(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取版本历史失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// StreamEdit 对文章做一次流式全文润色
func (a *API) StreamEdit(c *gin.Context) {
	articleID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	userID := currentUserID(c)
	ctx := c.Request.Context()

	streamEvents(c, func(sink service.EventSink) error {
		_, err := a.editor.Edit(ctx, userID, service.EditInput{ArticleID: articleID}, sink)
		return err
	})
}
