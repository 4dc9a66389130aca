package hostapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

// ErrOutsideWorkspace is reported when a restricted host is asked for a path
// outside its workspace folders.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

const maxResponseBody = 10 << 20

// Store is a key/value scope the host shares with its peer.
type Store interface {
	Get(ctx context.Context) (map[string]any, error)
	Update(ctx context.Context, items map[string]any) error
}

// Config describes the environment a Host exposes.
type Config struct {
	// Name prefixes output lines, e.g. "[my-extension] ".
	Name string

	ExtensionPath    string
	StoragePath      string
	WorkspaceFolders []string

	// RestrictToWorkspace rejects file operations outside WorkspaceFolders
	// and StoragePath.
	RestrictToWorkspace bool

	// Output receives showTxt2Output text. Nil discards it.
	Output io.Writer

	// HTTPClient performs request. Nil uses a client with a 30s timeout.
	HTTPClient *http.Client

	GlobalState    Store
	WorkspaceState Store
	WebviewData    Store
}

// Host answers the host API channels.
type Host struct {
	cfg     Config
	folders []WorkspaceFolder
	logger  *zap.Logger

	outMu sync.Mutex
}

// NewHost creates a Host. Missing stores are not registered as commands.
func NewHost(cfg Config, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	folders := make([]WorkspaceFolder, 0, len(cfg.WorkspaceFolders))
	for i, dir := range cfg.WorkspaceFolders {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = filepath.Clean(dir)
		}
		folders = append(folders, WorkspaceFolder{Index: i, Name: filepath.Base(abs), Folder: abs})
	}

	return &Host{cfg: cfg, folders: folders, logger: logger}
}

// Commands returns the responder commands for every supported channel.
func (h *Host) Commands() bridge.Commands {
	cmds := bridge.Commands{
		ChannelGetPlatform: func(context.Context, any) (any, error) {
			return runtime.GOOS, nil
		},
		ChannelGetExtensionPath: func(context.Context, any) (any, error) {
			return h.cfg.ExtensionPath, nil
		},
		ChannelGetStoragePath: func(context.Context, any) (any, error) {
			return h.cfg.StoragePath, nil
		},
		ChannelGetWorkspaceFolders: func(context.Context, any) (any, error) {
			return h.folders, nil
		},
		ChannelFindFileInWorkspace: bridge.Handle(h.findFiles),
		ChannelExists4Path:         bridge.Handle(h.exists),
		ChannelGetStat4Path:        bridge.Handle(h.stat),
		ChannelReadFile:            bridge.Handle(h.readFile),
		ChannelWriteFile:           bridge.Handle(h.writeFile),
		ChannelShowTxt2Output:      bridge.Handle(h.showOutput),
		ChannelRequest:             bridge.Handle(h.request),
	}

	for scope, store := range map[Scope]Store{
		ScopeGlobal:    h.cfg.GlobalState,
		ScopeWorkspace: h.cfg.WorkspaceState,
		ScopeWebview:   h.cfg.WebviewData,
	} {
		if store == nil {
			continue
		}
		cmds[scope.getChannel()] = func(ctx context.Context, _ any) (any, error) {
			return store.Get(ctx)
		}
		cmds[scope.updateChannel()] = bridge.Handle(func(ctx context.Context, items map[string]any) (any, error) {
			return nil, store.Update(ctx, items)
		})
	}
	return cmds
}

// Folders returns the workspace folders.
func (h *Host) Folders() []WorkspaceFolder { return h.folders }

// resolve makes p absolute against the first workspace folder and enforces
// RestrictToWorkspace. The check runs on the symlink-free form of both p and
// the roots, so a link inside the workspace cannot reach outside it. The
// returned path is the cleaned original, which keeps Lstat meaningful.
func (h *Host) resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(p) && len(h.folders) > 0 {
		p = filepath.Join(h.folders[0].Folder, p)
	}
	p = filepath.Clean(p)

	if !h.cfg.RestrictToWorkspace {
		return p, nil
	}
	resolved, err := realPath(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrOutsideWorkspace, p, err)
	}
	roots := make([]string, 0, len(h.folders)+1)
	for _, f := range h.folders {
		roots = append(roots, f.Folder)
	}
	if h.cfg.StoragePath != "" {
		if abs, err := filepath.Abs(h.cfg.StoragePath); err == nil {
			roots = append(roots, abs)
		}
	}
	for _, root := range roots {
		if resolvedRoot, err := realPath(root); err == nil && within(resolvedRoot, resolved) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
}

// realPath evaluates the symlinks of p. For a path that does not exist yet
// it evaluates the deepest existing ancestor and appends the rest, so write
// targets are checked where they would actually land. A dangling link is an
// error since following it on write would create its target.
func realPath(p string) (string, error) {
	var rest []string
	for cur := p; ; {
		if _, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (h *Host) findFiles(ctx context.Context, args FindFilesArgs) ([]string, error) {
	if args.Include == "" {
		return nil, errors.New("include pattern is required")
	}
	if err := validateGlob(args.Include); err != nil {
		return nil, err
	}
	if err := validateGlob(args.Exclude); err != nil {
		return nil, err
	}

	var found []string
	for _, folder := range h.folders {
		err := filepath.WalkDir(folder.Folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel, err := filepath.Rel(folder.Folder, path)
			if err != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if args.Exclude != "" && matchGlob(args.Exclude, rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if args.Exclude != "" && matchGlob(args.Exclude, rel) {
				return nil
			}
			if matchGlob(args.Include, rel) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", folder.Folder, err)
		}
	}
	return found, nil
}

func (h *Host) exists(_ context.Context, args PathArgs) (bool, error) {
	p, err := h.resolve(args.Path)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	return err == nil, nil
}

func (h *Host) stat(_ context.Context, args PathArgs) (StatResult, error) {
	p, err := h.resolve(args.Path)
	if err != nil {
		return StatResult{Error: err.Error()}, nil
	}
	info, err := os.Lstat(p)
	if err != nil {
		return StatResult{Error: err.Error()}, nil
	}
	st := &Stat{
		IsFile:         info.Mode().IsRegular(),
		IsDirectory:    info.IsDir(),
		IsSymbolicLink: info.Mode()&fs.ModeSymlink != 0,
		Size:           info.Size(),
		ModTimeMs:      info.ModTime().UnixMilli(),
	}
	if st.IsSymbolicLink {
		if target, err := os.Stat(p); err == nil {
			st.IsFile = target.Mode().IsRegular()
			st.IsDirectory = target.IsDir()
		}
	}
	return StatResult{Data: st}, nil
}

func (h *Host) readFile(_ context.Context, args ReadFileArgs) (ReadFileResult, error) {
	p, err := h.resolve(args.Path)
	if err != nil {
		return ReadFileResult{Error: err.Error()}, nil
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return ReadFileResult{Error: fmt.Sprintf("Failed to read file: %s: %v", args.Path, err)}, nil
	}

	switch args.Options {
	case "", ReadString:
		return ReadFileResult{Data: string(raw)}, nil
	case ReadHex:
		return ReadFileResult{Data: hex.EncodeToString(raw)}, nil
	case ReadJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return ReadFileResult{Error: err.Error(), Data: string(raw)}, nil
		}
		return ReadFileResult{Data: v}, nil
	default:
		return ReadFileResult{Error: fmt.Sprintf("unknown read option %q", args.Options)}, nil
	}
}

func (h *Host) writeFile(_ context.Context, args WriteFileArgs) (WriteFileResult, error) {
	p, err := h.resolve(args.Path)
	if err != nil {
		return WriteFileResult{Error: err.Error()}, nil
	}

	var data []byte
	switch v := args.Data.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		if data, err = json.Marshal(v); err != nil {
			return WriteFileResult{Error: err.Error()}, nil
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if args.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return WriteFileResult{Error: err.Error()}, nil
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return WriteFileResult{Error: err.Error()}, nil
	}
	if err := f.Close(); err != nil {
		return WriteFileResult{Error: err.Error()}, nil
	}
	h.logger.Debug("file written", zap.String("path", p), zap.Int("bytes", len(data)))
	return WriteFileResult{}, nil
}

func (h *Host) showOutput(_ context.Context, args OutputArgs) (any, error) {
	text := args.Txt
	if h.cfg.Name != "" {
		text = "[" + h.cfg.Name + "] " + text
	}
	if args.Line == nil || *args.Line {
		text += "\n"
	}

	h.outMu.Lock()
	defer h.outMu.Unlock()
	if _, err := io.WriteString(h.cfg.Output, text); err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}
	return nil, nil
}

func (h *Host) request(ctx context.Context, args RequestArgs) (RequestResult, error) {
	if args.URL == "" {
		return RequestResult{Error: "url is required"}, nil
	}
	method := strings.ToUpper(args.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	switch v := args.Data.(type) {
	case nil:
	case string:
		body = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return RequestResult{Error: err.Error()}, nil
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return RequestResult{Error: err.Error()}, nil
	}
	if len(args.Headers) == 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return RequestResult{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result := RequestResult{
		StatusCode:    resp.StatusCode,
		StatusMessage: http.StatusText(resp.StatusCode),
	}
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	var decoded any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") && json.Unmarshal(raw, &decoded) == nil {
		result.Body = decoded
	} else {
		result.Body = string(raw)
	}
	return result, nil
}
