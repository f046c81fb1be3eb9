package model

import (
	"net"
	"strconv"
)

// Credentials 是代理的可选认证信息。Password 可以为空（只有用户名）。
type Credentials struct {
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
}

// Endpoint 定义了一个候选转发代理，解析后不可变。
// 身份由 (Host, Port) 决定，Catalog 不做去重。
type Endpoint struct {
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// EndpointKey 是 Endpoint 的身份，用于给会话状态等按代理隔离的数据做键。
type EndpointKey struct {
	Host string
	Port int
}

// Key returns the identity of the endpoint.
func (e Endpoint) Key() EndpointKey {
	return EndpointKey{Host: e.Host, Port: e.Port}
}

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// HasAuth reports whether the endpoint carries a username.
func (e Endpoint) HasAuth() bool {
	return e.Credentials != nil && e.Credentials.User != ""
}

// String formats the endpoint the way the proxy source file does:
// host:port, host:port:user or host:port:user:pass.
func (e Endpoint) String() string {
	s := e.Host + ":" + strconv.Itoa(e.Port)
	if !e.HasAuth() {
		return s
	}
	s += ":" + e.Credentials.User
	if e.Credentials.Password != "" {
		s += ":" + e.Credentials.Password
	}
	return s
}

// Redacted is String without the password, for log lines.
func (e Endpoint) Redacted() string {
	s := e.Host + ":" + strconv.Itoa(e.Port)
	if e.HasAuth() {
		s += ":" + e.Credentials.User
	}
	return s
}
