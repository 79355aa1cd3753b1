package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
)

// EventType 事件类型
type EventType string

const (
	EventCertRenewed    EventType = "cert_renewed"    // 证书申请/续期成功
	EventCertFailed     EventType = "cert_failed"     // 证书申请失败
	EventCleanupWarning EventType = "cleanup_warning" // 验证内容未能全部删除
)

// EventData 事件数据
type EventData struct {
	Event       string                 `json:"event"`          // 事件类型
	Certificate string                 `json:"certificate"`    // 证书名称
	Endpoint    string                 `json:"endpoint"`       // 颁发机构
	Timestamp   string                 `json:"timestamp"`      // 时间戳
	Message     string                 `json:"message"`        // 消息
	Data        map[string]interface{} `json:"data,omitempty"` // 额外数据
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config   *config.WebhookConfig
	endpoint string
	client   *http.Client
	logger   *logrus.Entry

	// 第一次重试前的等待时间
	retryInterval time.Duration
}

// NewWebhookNotifier 创建 Webhook 通知器，未启用时返回 nil
func NewWebhookNotifier(cfg *config.WebhookConfig, endpoint string, logger *logrus.Entry) *WebhookNotifier {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WebhookNotifier{
		config:        cfg,
		endpoint:      endpoint,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
		retryInterval: time.Second,
	}
}

// ShouldNotify 检查是否应该发送该事件的通知
func (w *WebhookNotifier) ShouldNotify(eventType EventType) bool {
	if !w.IsEnabled() {
		return false
	}

	// 如果没有配置事件列表，则发送所有事件
	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == string(eventType) {
			return true
		}
	}
	return false
}

// Notify 发送通知
func (w *WebhookNotifier) Notify(ctx context.Context, eventType EventType, certificate, message string, data map[string]interface{}) error {
	if !w.ShouldNotify(eventType) {
		return nil
	}

	eventData := EventData{
		Event:       string(eventType),
		Certificate: certificate,
		Endpoint:    w.endpoint,
		Timestamp:   time.Now().Format(time.RFC3339),
		Message:     message,
		Data:        data,
	}

	body, err := w.body(eventData)
	if err != nil {
		return err
	}

	retries := w.config.Retries
	if retries <= 0 {
		retries = 3
	}

	// 指数退避：1s, 2s, 4s
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.retryInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries-1)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		return w.send(ctx, body)
	}, b)
	if err != nil {
		w.logger.Warnf("Webhook 通知发送失败 (已尝试 %d 次): %v", attempt, err)
		return err
	}

	w.logger.Debugf("Webhook 通知发送成功: %s (事件: %s, 证书: %s)", w.config.URL, eventType, certificate)
	return nil
}

func (w *WebhookNotifier) body(data EventData) ([]byte, error) {
	// 如果配置了自定义模板，使用模板生成请求体
	if w.config.BodyTemplate != "" {
		body, err := w.renderTemplate(w.config.BodyTemplate, data)
		if err == nil {
			return body, nil
		}
		// 模板渲染失败，使用默认 JSON 格式
		w.logger.Warnf("渲染 Webhook 请求体模板失败: %v", err)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化事件数据失败: %w", err)
	}
	return body, nil
}

func (w *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("创建请求失败: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}

// renderTemplate 渲染模板
func (w *WebhookNotifier) renderTemplate(tmplStr string, data EventData) ([]byte, error) {
	tmplData := map[string]interface{}{
		"Event":       data.Event,
		"Certificate": data.Certificate,
		"Endpoint":    data.Endpoint,
		"Timestamp":   data.Timestamp,
		"Message":     data.Message,
		"Data":        data.Data,
	}

	funcMap := template.FuncMap{
		"toJson": func(v interface{}) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(b)
		},
	}

	tmpl, err := template.New("webhook").Funcs(funcMap).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tmplData); err != nil {
		return nil, fmt.Errorf("渲染模板失败: %w", err)
	}
	return buf.Bytes(), nil
}

// NotifyCertRenewed 通知证书申请/续期成功
func (w *WebhookNotifier) NotifyCertRenewed(ctx context.Context, certificate, path string) error {
	message := fmt.Sprintf("证书申请/续期成功: %s", certificate)
	return w.Notify(ctx, EventCertRenewed, certificate, message, map[string]interface{}{
		"path": path,
	})
}

// NotifyCertFailed 通知证书申请失败
func (w *WebhookNotifier) NotifyCertFailed(ctx context.Context, certificate, reason string) error {
	message := fmt.Sprintf("证书申请失败: %s", certificate)
	return w.Notify(ctx, EventCertFailed, certificate, message, map[string]interface{}{
		"reason": reason,
	})
}

// NotifyCleanupWarning 通知验证内容删除失败，需要人工检查
func (w *WebhookNotifier) NotifyCleanupWarning(ctx context.Context, certificate string, failures int) error {
	message := fmt.Sprintf("删除验证内容时出现 %d 个错误，请手动检查: %s", failures, certificate)
	return w.Notify(ctx, EventCleanupWarning, certificate, message, map[string]interface{}{
		"failures": failures,
	})
}

// IsEnabled 检查是否启用
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config != nil && w.config.Enabled
}
