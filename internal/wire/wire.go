// Package wire is the catalog of remote methods peers exchange and their
// argument types. Encoding and framing belong to package rpc.
package wire

// Mesh methods served by every hub.
const (
	MethodBuild          = "build"
	MethodNoteReceived   = "noteReceived"
	MethodAddBuilder     = "addBuilder"
	MethodRemoveBuilder  = "removeBuilder"
	MethodAddObserver    = "addObserver"
	MethodRemoveObserver = "removeObserver"
	MethodGetUID         = "getUID"
	MethodGetName        = "getName"
)

// Results methods between build agents and a results server.
const (
	MethodIdentify     = "Identify"
	MethodSendResult   = "SendResult"
	MethodSuggestBuild = "SuggestBuild"
	MethodSendStatus   = "SendStatus"
)

// KindBuilder is the only peer kind agents identify as.
const KindBuilder = "builder"

// Empty is the argument and reply of methods that carry nothing.
type Empty struct{}

// IdentifyArgs announces a peer to a results server.
type IdentifyArgs struct {
	Kind string `cbor:"kind"`
	Name string `cbor:"name"`
}

// SendResultArgs reports a finished build to a results server. Specs
// describes the environment the build ran in.
type SendResultArgs struct {
	ProjectName string `cbor:"project_name"`
	Revision    string `cbor:"revision"`
	Specs       string `cbor:"specs"`
	ReturnCode  int    `cbor:"return_code"`
}

// SuggestBuildArgs asks a peer to build a project at a revision.
type SuggestBuildArgs struct {
	ProjectName string `cbor:"project_name"`
	Revision    string `cbor:"revision"`
}

// SendStatusArgs relays one builder's result to the other builders.
type SendStatusArgs struct {
	ProjectName string `cbor:"project_name"`
	Revision    string `cbor:"revision"`
	BuilderName string `cbor:"builder_name"`
	ReturnCode  int    `cbor:"return_code"`
}
