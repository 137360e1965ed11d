package model

// SyncVersion is a wrapping one-byte counter in range [0, 254].
// The value 255 is never stored; on the wire it means "client has no version".
type SyncVersion uint8

const (
	// SyncVersionUnknown is sent by clients that have no cached data for a category.
	SyncVersionUnknown SyncVersion = 255

	syncVersionModulo = 255
)

// Next returns the version following v, wrapping 254 to 0.
func (v SyncVersion) Next() SyncVersion {
	return SyncVersion((uint16(v) + 1) % syncVersionModulo)
}

// SyncDataType identifies a synchronizable data category on the wire.
type SyncDataType uint8

const (
	SyncAccount        SyncDataType = 0
	SyncReceivedBlocks SyncDataType = 1
	SyncReceivedLikes  SyncDataType = 2
	SyncSentBlocks     SyncDataType = 3
	SyncSentLikes      SyncDataType = 4
	SyncMatches        SyncDataType = 5
)

var syncDataTypeNames = map[SyncDataType]string{
	SyncAccount:        "account",
	SyncReceivedBlocks: "received_blocks",
	SyncReceivedLikes:  "received_likes",
	SyncSentBlocks:     "sent_blocks",
	SyncSentLikes:      "sent_likes",
	SyncMatches:        "matches",
}

// Known reports whether the category id is recognized by this server.
func (t SyncDataType) Known() bool {
	_, ok := syncDataTypeNames[t]
	return ok
}

func (t SyncDataType) String() string {
	if n, ok := syncDataTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// IsChat reports whether the category belongs to the chat component.
func (t SyncDataType) IsChat() bool {
	return t.Known() && t != SyncAccount
}

// SyncVersionFromClient is one [data_type_id, version] record of the client's version vector.
type SyncVersionFromClient struct {
	DataType SyncDataType
	Version  SyncVersion
}
