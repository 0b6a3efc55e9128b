package handler

import (
	"net/http"
	"strings"

	"github.com/draftflow/internal/service"
	"github.com/gin-gonic/gin"
)

// maskKey 只回显密钥末 4 位，完整密钥不出服务端。
func maskKey(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func settingsView(settings service.SystemSettings) gin.H {
	return gin.H{
		"siteName":       settings.SiteName,
		"aiProvider":     settings.AIProvider,
		"openaiApiKey":   maskKey(settings.OpenAIAPIKey),
		"deepseekApiKey": maskKey(settings.DeepSeekAPIKey),
		"embeddingModel": settings.EmbeddingModel,
	}
}

// GetSettings 返回系统设置（密钥打码）
func (a *API) GetSettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取系统设置失败")
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

type settingsRequest struct {
	SiteName       string `json:"siteName"`
	AIProvider     string `json:"aiProvider"`
	OpenAIAPIKey   string `json:"openaiApiKey"`
	DeepSeekAPIKey string `json:"deepseekApiKey"`
	EmbeddingModel string `json:"embeddingModel"`
}

// UpdateSettings 更新系统设置
func (a *API) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if !bindJSON(c, &req, "请求格式不正确") {
		return
	}

	// 打码后的密钥原样回传表示未修改，保留库里的值
	if current, err := a.system.GetSettings(); err == nil {
		if strings.HasPrefix(req.OpenAIAPIKey, "****") {
			req.OpenAIAPIKey = current.OpenAIAPIKey
		}
		if strings.HasPrefix(req.DeepSeekAPIKey, "****") {
			req.DeepSeekAPIKey = current.DeepSeekAPIKey
		}
	}

	settings, err := a.system.UpdateSettings(service.SystemSettingsInput{
		SiteName:       req.SiteName,
		AIProvider:     req.AIProvider,
		OpenAIAPIKey:   req.OpenAIAPIKey,
		DeepSeekAPIKey: req.DeepSeekAPIKey,
		EmbeddingModel: req.EmbeddingModel,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存系统设置失败")
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

type testConnectionRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// TestAIConnection 校验 AI 平台 API Key 是否可用
func (a *API) TestAIConnection(c *gin.Context) {
	var req testConnectionRequest
	if !bindJSON(c, &req, "请求格式不正确") {
		return
	}

	if err := a.system.TestAIConnection(c.Request.Context(), req.Provider, req.APIKey); err != nil {
		respondError(c, http.StatusBadRequest, "连接测试失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "连接正常"})
}
