package luaflow

import (
	"context"

	runtimepkg "github.com/drblury/luaflow/internal/runtime"
	channelpkg "github.com/drblury/luaflow/internal/runtime/channel"
	codecpkg "github.com/drblury/luaflow/internal/runtime/codec"
	configpkg "github.com/drblury/luaflow/internal/runtime/config"
	envelopepkg "github.com/drblury/luaflow/internal/runtime/envelope"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	idspkg "github.com/drblury/luaflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/luaflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/luaflow/internal/runtime/metadata"
	schemepkg "github.com/drblury/luaflow/internal/runtime/scheme"
	scriptpkg "github.com/drblury/luaflow/internal/runtime/script"
	"github.com/drblury/luaflow/transport"
)

type (
	Config              = configpkg.Config
	ServiceConfig       = configpkg.Service
	Props               = configpkg.Props
	Variant             = configpkg.Variant
	BusConfig           = configpkg.Bus
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ServiceStatus       = runtimepkg.ServiceStatus
	ChannelInfo         = runtimepkg.ChannelInfo

	Channel      = channelpkg.Channel
	LuaChannel   = channelpkg.Lua
	Dependencies = channelpkg.Dependencies
	Registry     = channelpkg.Registry
	State        = channelpkg.State
	Callback     = channelpkg.Callback

	// Child channels
	DirectChannel = channelpkg.Direct
	NullChannel   = channelpkg.Null
	BusChannel    = channelpkg.Bus

	// Observer hooks and hook middleware
	Hooks          = channelpkg.Hooks
	StateEvent     = channelpkg.StateEvent
	FaultEvent     = channelpkg.FaultEvent
	EmitEvent      = channelpkg.EmitEvent
	HookCall       = channelpkg.HookCall
	HookHandler    = channelpkg.HookHandler
	HookMiddleware = channelpkg.HookMiddleware
	Result         = scriptpkg.Result

	// Channel metrics
	Metrics         = channelpkg.Metrics
	ChannelStats    = channelpkg.ChannelStats
	MetricsSnapshot = channelpkg.MetricsSnapshot

	Msg     = envelopepkg.Msg
	MsgType = envelopepkg.Type

	Scheme        = schemepkg.Scheme
	Message       = schemepkg.Message
	Field         = schemepkg.Field
	CodecSettings = codecpkg.Settings
	Codec         = codecpkg.Codec

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ErrorKind             = errspkg.Kind
	ConfigValidationError = errspkg.ConfigValidationError

	// Transports for bus children. Import individual transports via:
	// _ "github.com/drblury/luaflow/transport/kafka"
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

// Channel states.
const (
	StateClosed  = channelpkg.Closed
	StateOpening = channelpkg.Opening
	StateActive  = channelpkg.Active
	StateClosing = channelpkg.Closing
	StateError   = channelpkg.Error
	StateDestroy = channelpkg.Destroy
)

// Message types.
const (
	TypeData    = envelopepkg.Data
	TypeControl = envelopepkg.Control
)

// Channel variants.
const (
	VariantStandalone = configpkg.VariantStandalone
	VariantPrefix     = configpkg.VariantPrefix
	VariantFilter     = configpkg.VariantFilter
	VariantLogic      = configpkg.VariantLogic
)

// Fault kinds reported to FaultEvent observers.
const (
	KindConfiguration = errspkg.KindConfiguration
	KindDecode        = errspkg.KindDecode
	KindEncode        = errspkg.KindEncode
	KindScript        = errspkg.KindScript
)

var (
	NewService = runtimepkg.NewService

	NewChannel  = channelpkg.New
	NewRegistry = channelpkg.NewRegistry
	NewDirect   = channelpkg.NewDirect
	NewNull     = channelpkg.NewNull
	NewBus      = channelpkg.NewBus
	PairDirect  = channelpkg.Pair

	ParseURL        = configpkg.ParseURL
	LoadFile        = configpkg.LoadFile
	LoadYAML        = configpkg.LoadYAML
	LoadServiceFile = configpkg.LoadServiceFile
	LoadServiceYAML = configpkg.LoadServiceYAML
	NewProps        = configpkg.NewProps

	LoadScheme    = schemepkg.Load
	ParseScheme   = schemepkg.Parse
	CompareScheme = schemepkg.Compare
	NewCodec      = codecpkg.New
	CodecPreset   = codecpkg.Preset
	CompileScript = scriptpkg.Compile

	DefaultMiddlewares  = channelpkg.DefaultMiddlewares
	TracerMiddleware    = channelpkg.TracerMiddleware
	MetricsMiddleware   = channelpkg.MetricsMiddleware
	LogHooksMiddleware  = channelpkg.LogHooksMiddleware
	RecovererMiddleware = channelpkg.RecovererMiddleware

	LoggingHooks  = channelpkg.LoggingHooks
	MetricsHooks  = channelpkg.MetricsHooks
	AlertingHooks = channelpkg.AlertingHooks
	NewMetrics    = channelpkg.NewMetrics

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
	NewEncoder    = jsoncodec.NewEncoder
	NewDecoder    = jsoncodec.NewDecoder

	ErrConfiguration   = errspkg.ErrConfiguration
	ErrDecode          = errspkg.ErrDecode
	ErrEncode          = errspkg.ErrEncode
	ErrScriptFault     = errspkg.ErrScriptFault
	ErrCodeRequired    = errspkg.ErrCodeRequired
	ErrSchemeRequired  = errspkg.ErrSchemeRequired
	ErrChildRequired   = errspkg.ErrChildRequired
	ErrNotActive       = errspkg.ErrNotActive
	ErrAlreadyOpen     = errspkg.ErrAlreadyOpen
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrUnknownMessage  = errspkg.ErrUnknownMessage
	ErrChannelNotFound = errspkg.ErrChannelNotFound
	ErrorKindOf        = errspkg.KindOf

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// OpenURL creates a channel from a channel url such as
// "lua+direct://;name=prefix;code=file://prefix.lua" and opens it.
func OpenURL(ctx context.Context, url string, log ServiceLogger, deps Dependencies) (*LuaChannel, error) {
	conf, err := configpkg.ParseURL(url)
	if err != nil {
		return nil, err
	}
	ch, err := channelpkg.New(conf, log, deps)
	if err != nil {
		return nil, err
	}
	if err := ch.Open(ctx, nil); err != nil {
		_ = ch.Close(ctx, true)
		return nil, err
	}
	return ch, nil
}
