package rabbitmq

// Exchange - обменник уведомлений.
const Exchange = "notifications"

// Очередь подтверждений об активации премиума.
const (
	QueuePremium      = "notification.premium"
	RoutingKeyPremium = "premium"
)

// QueueConfig - очередь и ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди воркера уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueuePremium, RoutingKey: RoutingKeyPremium},
	}
}
