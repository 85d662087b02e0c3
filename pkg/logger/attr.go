package logger

import "log/slog"

// Error records err under the key "error". A nil err yields an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

// RequestID records the request identifier; empty IDs are dropped.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
