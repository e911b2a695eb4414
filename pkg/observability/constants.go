package observability

const (
	AttrServiceName = "service.name"
	AttrApp         = "app"
	AttrStep        = "step"
	AttrModelName   = "model.name"
	AttrActionKind  = "action.kind"
	AttrErrorType   = "error.type"

	SpanModelChat      = "agent.model_chat"
	SpanMemoryPersist  = "agent.memory_persist"
	SpanMemoryLoad     = "agent.memory_load"
	SpanReflectionSlow = "agent.reflection_vlm"

	DefaultServiceName = "phoneagent"
)
