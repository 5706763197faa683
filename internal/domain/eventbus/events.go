package eventbus

import "time"

// 事件类型定义
const (
	// 许可变更
	EventLicenceIssued      = "licence:issued"
	EventLicenceExtended    = "licence:extended"
	EventLicenceActivated   = "licence:activated"
	EventLicenceDeactivated = "licence:deactivated"
	EventLicenceMaxBind     = "licence:max_bind_changed"

	// 设备绑定
	EventBindAdmitted = "bind:admitted"
	EventBindRejected = "bind:rejected"

	// 外部密钥
	EventCustomKeysReloaded = "custom_keys:reloaded"
	EventCustomKeysSwept    = "custom_keys:swept"
)

// LicenceTopics 需要审计的全部主题
var LicenceTopics = []string{
	EventLicenceIssued,
	EventLicenceExtended,
	EventLicenceActivated,
	EventLicenceDeactivated,
	EventLicenceMaxBind,
	EventBindAdmitted,
	EventBindRejected,
	EventCustomKeysReloaded,
	EventCustomKeysSwept,
}

// LicenceEvent 许可领域事件
type LicenceEvent struct {
	Type       string         `json:"type"`
	LicenceKey string         `json:"licence_key,omitempty"`
	PeerID     string         `json:"peer_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher 是领域服务发布事件所需的最小接口
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) PublishAsync(string, ...interface{}) {}

// Emit 以事件类型为主题发布
func Emit(p Publisher, ev LicenceEvent) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.PublishAsync(ev.Type, ev)
}
