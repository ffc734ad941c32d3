package nasapi

import "time"

// FileInfo is one entry from the remote index listing.
type FileInfo struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"` // hex SHA-256 of file content
	Mtime int64  `json:"mtime_ns"`
}

// listFilesResponse is the JSON shape of the list endpoint.
type listFilesResponse struct {
	Files []FileInfo `json:"files"`
}

// UploadSession is the server's answer to an upload initiation. ChunkSize and
// TotalChunks are authoritative: the server may adjust the client's proposal.
type UploadSession struct {
	UploadID    string `json:"upload_id"`
	TotalChunks int    `json:"total_chunks"`
	ChunkSize   int64  `json:"chunk_size"`
}

// ChunkReceipt acknowledges a single uploaded chunk. Completed is set on the
// receipt for the final chunk once the server has hash-verified the whole file.
type ChunkReceipt struct {
	Received  bool `json:"received"`
	Completed bool `json:"completed"`
}

// UploadSessionStatus reports which chunk indices the server has accepted.
// Used to resume an interrupted upload from the first unacknowledged chunk.
type UploadSessionStatus struct {
	UploadID       string `json:"upload_id"`
	ReceivedChunks []int  `json:"received_chunks"`
	ChunkSize      int64  `json:"chunk_size"`
	TotalChunks    int    `json:"total_chunks"`
}

// initiateUploadRequest is the JSON body for upload initiation.
type initiateUploadRequest struct {
	FolderID    string `json:"folder_id"`
	RemotePath  string `json:"remote_path"`
	FileSize    int64  `json:"file_size"`
	FileHash    string `json:"file_hash"`
	TotalChunks int    `json:"total_chunks"`
}

// moveRequest is the JSON body for move and rename endpoints.
type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// createFolderRequest is the JSON body for folder creation.
type createFolderRequest struct {
	Path string `json:"path"`
}

// Timeouts per operation weight. Listing and metadata mutations are light;
// chunk transfers are bounded separately because a chunk is at most a few MiB.
const (
	DefaultTimeout  = 15 * time.Second
	TransferTimeout = 30 * time.Second
)
