package rtsp

type Method string

const (
	MethodOptions  Method = "OPTIONS"
	MethodDescribe Method = "DESCRIBE"
	MethodSetup    Method = "SETUP"
	MethodPlay     Method = "PLAY"
	MethodPause    Method = "PAUSE"
	MethodTeardown Method = "TEARDOWN"
)

func (m Method) String() string {
	return string(m)
}

// supportedMethods is the fixed set advertised by OPTIONS, matched
// case-sensitively during dispatch.
var supportedMethods = []Method{
	MethodDescribe,
	MethodSetup,
	MethodTeardown,
	MethodPlay,
	MethodPause,
}
