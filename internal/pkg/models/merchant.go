package models

type Merchant struct {
	ID             string
	Name           string
	TelegramChatID int64
}
