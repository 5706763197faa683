package eventbus

// InfoLogger 记录事件摘要所需的日志接口
type InfoLogger interface {
	Info(format string, args ...any)
	Debug(format string, args ...any)
}

// SetupEventHandlers 为所有许可主题挂上日志处理器
func SetupEventHandlers(bus *AsyncEventBus, logger InfoLogger) error {
	for _, topic := range LicenceTopics {
		topic := topic
		handler := func(ev LicenceEvent) {
			switch topic {
			case EventBindAdmitted, EventBindRejected:
				logger.Debug("%s key=%s peer=%s %v", topic, ev.LicenceKey, ev.PeerID, ev.Detail)
			default:
				logger.Info("%s key=%s %v", topic, ev.LicenceKey, ev.Detail)
			}
		}
		if err := bus.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}
