package domain

// PaymentStatus описывает результат симуляции платежа.
type PaymentStatus string

const (
	// PaymentStatusPending: платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCaptured: деньги списаны.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusFailed: платёж отклонён или произошла ошибка.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Succeeded сообщает, что платёж завершён успешно.
func (s PaymentStatus) Succeeded() bool {
	return s == PaymentStatusCaptured
}
