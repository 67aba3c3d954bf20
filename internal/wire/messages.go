package wire

// Messages are plain structs encoded with Codec. Fields that travel one per
// message in a strictly ordered client stream are pointers so that presence
// can be told apart from an empty value.

type Empty struct{}

type CreateNewBackupRequest struct {
	UserID             *string `cbor:"1,keyasint,omitempty"`
	DeviceID           *string `cbor:"2,keyasint,omitempty"`
	KeyEntropy         []byte  `cbor:"3,keyasint,omitempty"`
	NewCompactionHash  *string `cbor:"4,keyasint,omitempty"`
	NewCompactionChunk []byte  `cbor:"5,keyasint,omitempty"`
}

type CreateNewBackupResponse struct {
	BackupID string `cbor:"1,keyasint,omitempty"`
}

type SendLogRequest struct {
	UserID   *string `cbor:"1,keyasint,omitempty"`
	BackupID *string `cbor:"2,keyasint,omitempty"`
	LogHash  *string `cbor:"3,keyasint,omitempty"`
	LogData  []byte  `cbor:"4,keyasint,omitempty"`
}

type SendLogResponse struct {
	LogCheckpoint string `cbor:"1,keyasint,omitempty"`
}

type PullBackupRequest struct {
	UserID   string `cbor:"1,keyasint,omitempty"`
	BackupID string `cbor:"2,keyasint,omitempty"`
}

// PullBackupResponse carries either a compaction chunk or a log chunk, plus
// the attachment holders of the item the chunk belongs to.
type PullBackupResponse struct {
	BackupID          string `cbor:"1,keyasint,omitempty"`
	LogID             string `cbor:"2,keyasint,omitempty"`
	AttachmentHolders string `cbor:"3,keyasint,omitempty"`
	CompactionChunk   []byte `cbor:"4,keyasint,omitempty"`
	LogChunk          []byte `cbor:"5,keyasint,omitempty"`
}

type AddAttachmentRequest struct {
	UserID    *string `cbor:"1,keyasint,omitempty"`
	BackupID  *string `cbor:"2,keyasint,omitempty"`
	LogID     *string `cbor:"3,keyasint,omitempty"`
	DataHash  *string `cbor:"4,keyasint,omitempty"`
	DataChunk []byte  `cbor:"5,keyasint,omitempty"`
}

// IsEmpty reports whether no field is set. An empty message in the log id
// position means the attachment belongs to the backup itself.
func (r *AddAttachmentRequest) IsEmpty() bool {
	return r.UserID == nil && r.BackupID == nil && r.LogID == nil && r.DataHash == nil && len(r.DataChunk) == 0
}

type AddAttachmentsRequest struct {
	UserID   string `cbor:"1,keyasint,omitempty"`
	BackupID string `cbor:"2,keyasint,omitempty"`
	LogID    string `cbor:"3,keyasint,omitempty"`
	Holders  string `cbor:"4,keyasint,omitempty"`
}

type BlobPutRequest struct {
	Holder    *string `cbor:"1,keyasint,omitempty"`
	BlobHash  *string `cbor:"2,keyasint,omitempty"`
	DataChunk []byte  `cbor:"3,keyasint,omitempty"`
}

type BlobPutResponse struct {
	DataExists bool `cbor:"1,keyasint,omitempty"`
}

type BlobGetRequest struct {
	Holder           string `cbor:"1,keyasint,omitempty"`
	ExtraBytesNeeded int64  `cbor:"2,keyasint,omitempty"`
}

type BlobGetResponse struct {
	DataChunk []byte `cbor:"1,keyasint,omitempty"`
}

type BlobRemoveRequest struct {
	Holder string `cbor:"1,keyasint,omitempty"`
}

// String returns a pointer to s, for populating optional message fields.
func String(s string) *string { return &s }
