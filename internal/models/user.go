// Package models содержит доменные модели сервиса: пользователя с флагами
// разовых квот и биллинговыми метаданными, планы подписки и сообщения уведомлений.
package models

import "time"

// User представляет учетную запись пользователя.
type User struct {
	ID                     string     // Уникальный идентификатор пользователя
	Email                  string     // Электронная почта
	Name                   string     // Отображаемое имя
	IsPremium              bool       // Признак премиум-подписки
	SubscriptionExpiration *time.Time // Окончание подписки, nil - бессрочная (legacy)
	SubscriptionStartDate  *time.Time // Начало текущей подписки
	FreeResumeUsed         bool       // Бесплатное резюме израсходовано, обратно не сбрасывается
	FreeDownloadUsed       bool       // Бесплатное скачивание израсходовано, обратно не сбрасывается
	TotalDownloads         int64      // Всего скачиваний
	ResumesGenerated       int64      // Всего сгенерированных резюме
	PremiumResumeCount     int64      // Резюме за текущий месяц премиума
	PremiumResumeMonth     string     // Месяц счетчика в формате 2006-01
	PlanType               string     // Тип плана, выставляется только биллингом
	PaymentProvider        string
	PayerID                string
	LastTransactionID      string
	UpdatedAt              time.Time
}

// Resume - сохраненное резюме пользователя.
type Resume struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
