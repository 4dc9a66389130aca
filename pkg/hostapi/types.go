package hostapi

// Channel names understood by Host.Commands.
const (
	ChannelGetPlatform          = "getPlatform"
	ChannelGetExtensionPath     = "getExtensionPath"
	ChannelGetStoragePath       = "getStoragePath"
	ChannelGetWorkspaceFolders  = "getWorkspaceFolders"
	ChannelFindFileInWorkspace  = "findFileInWorkspace"
	ChannelExists4Path          = "exists4Path"
	ChannelGetStat4Path         = "getStat4Path"
	ChannelReadFile             = "readFile"
	ChannelWriteFile            = "writeFile"
	ChannelShowTxt2Output       = "showTxt2Output"
	ChannelRequest              = "request"
	ChannelGetGlobalState       = "getGlobalState"
	ChannelUpdateGlobalState    = "updateGlobalState"
	ChannelGetWorkspaceState    = "getWorkspaceState"
	ChannelUpdateWorkspaceState = "updateWorkspaceState"
	ChannelGetWebviewData       = "getWebviewData"
	ChannelUpdateWebviewData    = "updateWebviewData"
)

// Read encodings for ReadFileArgs.Options.
const (
	ReadString = "string"
	ReadHex    = "hex"
	ReadJSON   = "json"
)

// Scope names one of the key/value stores shared with the peer.
type Scope string

// Scopes.
const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
	ScopeWebview   Scope = "webview"
)

func (s Scope) getChannel() string {
	switch s {
	case ScopeGlobal:
		return ChannelGetGlobalState
	case ScopeWorkspace:
		return ChannelGetWorkspaceState
	default:
		return ChannelGetWebviewData
	}
}

func (s Scope) updateChannel() string {
	switch s {
	case ScopeGlobal:
		return ChannelUpdateGlobalState
	case ScopeWorkspace:
		return ChannelUpdateWorkspaceState
	default:
		return ChannelUpdateWebviewData
	}
}

// WorkspaceFolder is one root of the workspace.
type WorkspaceFolder struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
}

// FindFilesArgs selects files by glob, relative to each workspace folder.
type FindFilesArgs struct {
	Include string `json:"include"`
	Exclude string `json:"exclude,omitempty"`
}

// PathArgs carries a single path.
type PathArgs struct {
	Path string `json:"path"`
}

// Stat describes a filesystem entry.
type Stat struct {
	IsFile         bool  `json:"isFile"`
	IsDirectory    bool  `json:"isDirectory"`
	IsSymbolicLink bool  `json:"isSymbolicLink"`
	Size           int64 `json:"size"`
	ModTimeMs      int64 `json:"mtimeMs"`
}

// StatResult is the reply of getStat4Path.
type StatResult struct {
	Error string `json:"error,omitempty"`
	Data  *Stat  `json:"data,omitempty"`
}

// ReadFileArgs selects a file and how its content is encoded in the reply.
type ReadFileArgs struct {
	Path    string `json:"path"`
	Options string `json:"options,omitempty"`
}

// ReadFileResult is the reply of readFile.
type ReadFileResult struct {
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// WriteFileArgs writes Data to Path. Strings are written as is, anything
// else as JSON.
type WriteFileArgs struct {
	Path   string `json:"path"`
	Data   any    `json:"data"`
	Append bool   `json:"append,omitempty"`
}

// WriteFileResult is the reply of writeFile.
type WriteFileResult struct {
	Error string `json:"error,omitempty"`
}

// OutputArgs appends text to the host output.
type OutputArgs struct {
	Txt string `json:"txt"`
	// Line appends a newline; nil means true.
	Line *bool `json:"line,omitempty"`
}

// RequestArgs describes an HTTP request performed by the host.
type RequestArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Data    any               `json:"data,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RequestResult is the reply of request.
type RequestResult struct {
	Error         string `json:"error,omitempty"`
	Body          any    `json:"body,omitempty"`
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}
