package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"northsea/internal/config"
	"northsea/internal/lifecycle"
	"northsea/internal/model"

	"gopkg.in/gomail.v2"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	dial   func() sender
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.dial = func() sender {
		return gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	}
	return n
}

// Configured 报告 SMTP 与收件人是否齐全。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != "" &&
		strings.TrimSpace(n.cfg.ToEmail) != ""
}

// Notify 发送任务完成或失败邮件，配置缺失时跳过。
func (n *EmailNotifier) Notify(ctx context.Context, change lifecycle.Change) error {
	if !n.Configured() {
		n.logger.Debug("email config missing, skip notification")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", subjectFor(change))
	m.SetBody("text/html", buildHTMLBody(change))

	if err := n.dial().DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent",
		slog.String("to", n.cfg.ToEmail),
		slog.Uint64("task_id", uint64(change.TaskID)),
		slog.String("status", string(change.To)))
	return nil
}

func subjectFor(change lifecycle.Change) string {
	if change.To == model.TaskFailed {
		return fmt.Sprintf("[North Sea] 采集任务失败: %s", change.Name)
	}
	return fmt.Sprintf("[North Sea] 采集任务完成: %s", change.Name)
}

func buildHTMLBody(change lifecycle.Change) string {
	reason := ""
	if change.Reason != "" {
		reason = fmt.Sprintf(`<p>原因: %s</p>`, html.EscapeString(change.Reason))
	}

	template := `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>%s</h2>
    <p>任务 #%d 状态: %s → %s</p>
    %s
  </div>
</body>
</html>`
	return fmt.Sprintf(template,
		html.EscapeString(change.Name),
		change.TaskID,
		change.From,
		change.To,
		reason)
}
