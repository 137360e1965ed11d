package ws

import (
	"encoding/binary"
	"fmt"

	"github.com/and161185/livesync/internal/model"
)

// ProtocolVersion is the only accepted value of the first hello byte.
const ProtocolVersion = 0

const helloLen = 8

// ClientType is the kind of client application.
type ClientType uint8

const (
	ClientAndroid ClientType = 0
	ClientIOS     ClientType = 1
	ClientBot     ClientType = 255
)

func (t ClientType) String() string {
	switch t {
	case ClientAndroid:
		return "android"
	case ClientIOS:
		return "ios"
	case ClientBot:
		return "bot"
	default:
		return fmt.Sprintf("client(%d)", uint8(t))
	}
}

// ClientInfo is the decoded hello frame.
type ClientInfo struct {
	Type  ClientType
	Major uint16
	Minor uint16
	Patch uint16
}

func (i ClientInfo) String() string {
	return fmt.Sprintf("%s %d.%d.%d", i.Type, i.Major, i.Minor, i.Patch)
}

// Supported reports whether the server accepts the client.
func (i ClientInfo) Supported() bool {
	switch i.Type {
	case ClientAndroid, ClientIOS, ClientBot:
		return true
	default:
		return false
	}
}

// ParseHello decodes [version, client_type, major, minor, patch] with the
// version triple in little endian.
func ParseHello(b []byte) (ClientInfo, error) {
	if len(b) != helloLen {
		return ClientInfo{}, fmt.Errorf("hello: want %d bytes, got %d", helloLen, len(b))
	}
	if b[0] != ProtocolVersion {
		return ClientInfo{}, fmt.Errorf("hello: unsupported protocol version %d", b[0])
	}
	return ClientInfo{
		Type:  ClientType(b[1]),
		Major: binary.LittleEndian.Uint16(b[2:4]),
		Minor: binary.LittleEndian.Uint16(b[4:6]),
		Patch: binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// EncodeHello is the inverse of ParseHello.
func EncodeHello(i ClientInfo) []byte {
	b := make([]byte, helloLen)
	b[0] = ProtocolVersion
	b[1] = byte(i.Type)
	binary.LittleEndian.PutUint16(b[2:4], i.Major)
	binary.LittleEndian.PutUint16(b[4:6], i.Minor)
	binary.LittleEndian.PutUint16(b[6:8], i.Patch)
	return b
}

// ParseSyncVersions decodes the [data_type, version] records. Unknown data
// types are skipped.
func ParseSyncVersions(b []byte) ([]model.SyncVersionFromClient, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("sync versions: odd length %d", len(b))
	}
	out := make([]model.SyncVersionFromClient, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		t := model.SyncDataType(b[i])
		if !t.Known() {
			continue
		}
		out = append(out, model.SyncVersionFromClient{DataType: t, Version: model.SyncVersion(b[i+1])})
	}
	return out, nil
}
