package webhook

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/danstonedev/EMRsim-chat-sub004/core/relay/webhook"

var tracer = otel.Tracer(scopeName)
