package delivery

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyqueue/pkg/circuitbreaker"
)

const (
	DriverWhatsApp = "whatsapp"
	DriverMQ       = "mq"
	DriverLog      = "log"

	DefaultSendTimeout = 30 * time.Second
)

// Config 投递通道配置
type Config struct {
	Driver      string        `yaml:"driver"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	WhatsApp    struct {
		APIURL string `yaml:"api_url"`
		Token  string `yaml:"token"`
	} `yaml:"whatsapp"`
	Breaker circuitbreaker.Config `yaml:"breaker"`
}

// New builds the configured adapter wrapped as
// timeout(instrumented(breaker(channel))). publisher may be nil unless driver is mq.
func New(cfg Config, publisher Publisher, logger *zap.Logger) (Adapter, error) {
	var channel Adapter
	switch cfg.Driver {
	case DriverWhatsApp:
		if cfg.WhatsApp.APIURL == "" {
			return nil, fmt.Errorf("delivery.whatsapp.api_url is required")
		}
		channel = NewWhatsAppClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.Token)
	case DriverMQ:
		if publisher == nil {
			return nil, fmt.Errorf("delivery driver mq requires an MQ publisher")
		}
		channel = NewMQRelay(publisher)
	case DriverLog, "":
		channel = NewLogAdapter(logger)
		cfg.Driver = DriverLog
	default:
		return nil, fmt.Errorf("unknown delivery driver %q", cfg.Driver)
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	breaker := NewBreaker("delivery_"+cfg.Driver, cfg.Breaker, logger)
	return WithTimeout(Instrumented(WithBreaker(channel, breaker), cfg.Driver), timeout), nil
}
