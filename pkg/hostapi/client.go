package hostapi

import (
	"context"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

// Client calls the host API from the peer side.
type Client struct {
	center *bridge.Center
	opts   []bridge.SendOption
}

// NewClient creates a Client on c. opts apply to every call, typically a
// bridge.WithTimeout.
func NewClient(c *bridge.Center, opts ...bridge.SendOption) *Client {
	return &Client{center: c, opts: opts}
}

// Center returns the underlying center.
func (c *Client) Center() *bridge.Center { return c.center }

func call[R any](ctx context.Context, c *Client, channel string, args any) (R, error) {
	return bridge.Invoke[R](ctx, c.center, channel, args, c.opts...)
}

// GetPlatform returns the host operating system.
func (c *Client) GetPlatform(ctx context.Context) (string, error) {
	return call[string](ctx, c, ChannelGetPlatform, nil)
}

// GetExtensionPath returns the host extension directory.
func (c *Client) GetExtensionPath(ctx context.Context) (string, error) {
	return call[string](ctx, c, ChannelGetExtensionPath, nil)
}

// GetStoragePath returns the host storage directory.
func (c *Client) GetStoragePath(ctx context.Context) (string, error) {
	return call[string](ctx, c, ChannelGetStoragePath, nil)
}

// GetWorkspaceFolders returns the workspace roots.
func (c *Client) GetWorkspaceFolders(ctx context.Context) ([]WorkspaceFolder, error) {
	return call[[]WorkspaceFolder](ctx, c, ChannelGetWorkspaceFolders, nil)
}

// FindFileInWorkspace returns the absolute paths matching include and not
// exclude.
func (c *Client) FindFileInWorkspace(ctx context.Context, include, exclude string) ([]string, error) {
	return call[[]string](ctx, c, ChannelFindFileInWorkspace, FindFilesArgs{Include: include, Exclude: exclude})
}

// Exists reports whether path exists on the host.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	return call[bool](ctx, c, ChannelExists4Path, PathArgs{Path: path})
}

// Stat describes path on the host.
func (c *Client) Stat(ctx context.Context, path string) (StatResult, error) {
	return call[StatResult](ctx, c, ChannelGetStat4Path, PathArgs{Path: path})
}

// ReadFile reads path. options is one of ReadString, ReadHex or ReadJSON.
func (c *Client) ReadFile(ctx context.Context, path, options string) (ReadFileResult, error) {
	return call[ReadFileResult](ctx, c, ChannelReadFile, ReadFileArgs{Path: path, Options: options})
}

// WriteFile writes data to path.
func (c *Client) WriteFile(ctx context.Context, args WriteFileArgs) (WriteFileResult, error) {
	return call[WriteFileResult](ctx, c, ChannelWriteFile, args)
}

// ShowOutput appends txt to the host output without waiting for a reply.
func (c *Client) ShowOutput(ctx context.Context, txt string) error {
	return c.center.Post(ctx, ChannelShowTxt2Output, OutputArgs{Txt: txt})
}

// Request performs an HTTP request through the host.
func (c *Client) Request(ctx context.Context, args RequestArgs) (RequestResult, error) {
	return call[RequestResult](ctx, c, ChannelRequest, args)
}

// GetState returns the contents of scope.
func (c *Client) GetState(ctx context.Context, scope Scope) (map[string]any, error) {
	return call[map[string]any](ctx, c, scope.getChannel(), nil)
}

// UpdateState merges items into scope.
func (c *Client) UpdateState(ctx context.Context, scope Scope, items map[string]any) error {
	_, err := call[any](ctx, c, scope.updateChannel(), items)
	return err
}
