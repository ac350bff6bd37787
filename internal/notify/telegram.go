package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier 通过 Telegram Bot API 推送 HTML 格式通知。
// 纯 fire-and-forget：发送失败只记 debug 日志，绝不影响交易流程。
type TelegramNotifier struct {
	token  string
	chatID string
	http   *resty.Client
	log    *logrus.Entry
}

// NewTelegramNotifier 创建 Telegram 通知器。
// token 或 chatID 为空时返回 nil（通知功能关闭），调用方按 nil 处理。
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	if token == "" || chatID == "" {
		return nil
	}
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		http: resty.New().
			SetBaseURL(telegramAPIBase).
			SetTimeout(10 * time.Second),
		log: logger.WithField("component", "telegram_notifier"),
	}
}

// Notify 发送一条消息。阻塞时间以 HTTP 超时为上限，失败不向上冒泡。
func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	if n == nil {
		return
	}
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    n.chatID,
			"text":       message,
			"parse_mode": "HTML",
		}).
		Post("/bot" + n.token + "/sendMessage")
	if err != nil {
		n.log.Debugf("Telegram 发送失败: %v", err)
		return
	}
	if resp.IsError() {
		n.log.Debugf("Telegram 返回错误: http %d %s", resp.StatusCode(), resp.String())
	}
}
