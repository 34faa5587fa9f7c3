package model

// NormalizedEvent is the record emitted for every line a grammar accepts.
// Optional attributes are pointers or omitempty so absent values are never
// serialized as null.
type NormalizedEvent struct {
	Principal    Principal         `json:"principal"`
	Metadata     EventMetadata     `json:"metadata"`
	Intermediary Intermediary      `json:"intermediary"`
	Additional   map[string]string `json:"additional,omitempty"`
}

type Principal struct {
	Hostname string   `json:"hostname"`
	Process  *Process `json:"process,omitempty"`
	File     *File    `json:"file,omitempty"`
	User     *User    `json:"user,omitempty"`
}

type Process struct {
	Pid         *int64       `json:"pid,omitempty"`
	ParentPid   *int64       `json:"parent_pid,omitempty"`
	CommandLine string       `json:"command_line,omitempty"`
	File        *ProcessFile `json:"file,omitempty"`
}

type ProcessFile struct {
	StatInode string `json:"stat_inode"`
}

type File struct {
	FullPath             string `json:"full_path"`
	Size                 int64  `json:"size"`
	LastModificationTime string `json:"last_modification_time,omitempty"`
	LastAccessTime       string `json:"last_access_time,omitempty"`
	CreatedTime          string `json:"created_time,omitempty"`
}

type User struct {
	UserID string `json:"user_id"`
}

type EventMetadata struct {
	EventType          string `json:"event_type"`
	ProductName        string `json:"product_name,omitempty"`
	VendorName         string `json:"vendor_name,omitempty"`
	LogType            string `json:"log_type,omitempty"`
	CollectedTimestamp string `json:"collected_timestamp,omitempty"`
}

type Intermediary struct {
	Namespace string `json:"namespace,omitempty"`
}

const (
	EventTypeFileRead           = "FILE_READ"
	EventTypeProcessEnumeration = "PROCESS_ENUMERATION"
)

// EventConstants are the fixed metadata values stamped on every event.
type EventConstants struct {
	ProductName string
	VendorName  string
	LogType     string
	Namespace   string
}
