package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или переподключается.
	ErrNoChannel = errors.New("no channel available")

	// ErrPermanent — сообщение не может быть обработано никогда.
	// Такое сообщение уходит в DLQ без повторной доставки.
	ErrPermanent = errors.New("permanent message failure")

	// ErrMalformed — тело сообщения не разбирается как конверт Message.
	ErrMalformed = errors.New("malformed message")

	// ErrUnexpectedType — тип сообщения не предназначен этой очереди.
	ErrUnexpectedType = errors.New("unexpected message type")
)

// Permanent помечает ошибку обработчика как постоянную.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}
