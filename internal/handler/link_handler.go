package handler

import (
	"errors"
	"net/http"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// SuggestLinks 为文章生成一批内链建议
func (a *API) SuggestLinks(c *gin.Context) {
	articleID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	suggestion, err := a.linker.Suggest(c.Request.Context(), articleID)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "内链推荐失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

// GetLinkOpportunities 返回文章的全部内链建议
func (a *API) GetLinkOpportunities(c *gin.Context) {
	articleID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	opportunities, err := a.linker.List(articleID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取内链建议失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opportunities})
}

type linkStatusRequest struct {
	Status string `json:"status"`
}

// UpdateLinkOpportunity 采纳或否决一条内链建议
func (a *API) UpdateLinkOpportunity(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的建议 ID")
		return
	}

	var req linkStatusRequest
	if !bindJSON(c, &req, "请求格式不正确") {
		return
	}

	opportunity, err := a.linker.UpdateStatus(id, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrLinkOpportunityNotFound) {
			respondError(c, http.StatusNotFound, "内链建议不存在")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, opportunity)
}

// ApplyLinks 把已采纳的内链写入正文
func (a *API) ApplyLinks(c *gin.Context) {
	articleID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的文章 ID")
		return
	}

	article, applied, err := a.linker.Apply(currentUserID(c), articleID)
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) {
			respondError(c, http.StatusNotFound, "文章不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "内链写入失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"article": article, "applied": applied})
}
