package repo

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActiveStatusActive   = 1
	ActiveStatusInactive = 2
)

const (
	PublishTypeMerchant = 1
	PublishTypeLine     = 2
	PublishTypeTerminal = 3
)

const (
	MsgStatusSent    = 1
	MsgStatusRead    = 2
	MsgStatusReplied = 3
)

// MsgContent.CodeType: how Content is written on the wire.
const (
	MsgCodeHex   = 1
	MsgCodeASCII = 2
)

type Terminal struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	MerchantID       string     `gorm:"size:8;index" json:"merchant_id"`
	MachineID        string     `gorm:"size:20" json:"machine_id"`
	DeviceNO         string     `gorm:"size:16" json:"device_no"`
	LineNO           string     `gorm:"size:16" json:"line_no"`
	TerminalType     string     `gorm:"size:20" json:"terminal_type"`
	CreateTime       time.Time  `gorm:"autoCreateTime:false" json:"create_time"`
	StatusUpdateTime *time.Time `json:"status_update_time"`
}

func (Terminal) TableName() string {
	return "terminals"
}

// FileVersion is the per content-type entry of TerminalStatus.FileVersions.
type FileVersion struct {
	Current      string `json:"current"`
	Expected     string `json:"expected"`
	ExpectedCrc  string `json:"expected_crc"`
	ExpectedSize int    `json:"expected_size"`
	IsExpired    bool   `json:"is_expired"`
	PublishType  int    `json:"publish_type"`
	PublishID    int64  `json:"publish_id"`
}

type TerminalStatus struct {
	ID                 string                                     `gorm:"primaryKey;size:64" json:"id"`
	ActiveStatus       int                                        `json:"active_status"`
	LastActiveTime     time.Time                                  `gorm:"autoUpdateTime:false" json:"last_active_time"`
	LoginInTime        time.Time                                  `gorm:"autoUpdateTime:false" json:"login_in_time"`
	LoginOffTime       *time.Time                                 `json:"login_off_time"`
	ConnectionProtocol string                                     `gorm:"size:16" json:"connection_protocol"`
	EndPoint           string                                     `gorm:"size:64" json:"end_point"`
	Token              string                                     `gorm:"size:64" json:"token"`
	FileVersions       datatypes.JSONType[map[string]FileVersion] `json:"file_versions"`
	Properties         datatypes.JSONMap                          `json:"properties"`
}

func (TerminalStatus) TableName() string {
	return "terminal_statuses"
}

type ConsumeData struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MachineID   string    `gorm:"size:20" json:"machine_id"`
	MerchantID  string    `gorm:"size:8;index" json:"merchant_id"`
	MachineNO   string    `gorm:"size:20" json:"machine_no"`
	PsamNO      string    `gorm:"size:20" json:"psam_no"`
	Buffer      string    `gorm:"type:text" json:"buffer"`
	ReceiveTime time.Time `gorm:"autoCreateTime:false" json:"receive_time"`
}

func (ConsumeData) TableName() string {
	return "consume_data"
}

type IncrementContent struct {
	MerchantID    string    `gorm:"primaryKey;size:8" json:"merchant_id"`
	IncrementType string    `gorm:"primaryKey;size:4" json:"increment_type"`
	SerialNum     int64     `gorm:"primaryKey;autoIncrement:false" json:"serial_num"`
	Content       string    `gorm:"type:text" json:"content"`
	CreateTime    time.Time `gorm:"autoCreateTime:false" json:"create_time"`
}

func (IncrementContent) TableName() string {
	return "increment_contents"
}

type MsgContent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID string    `gorm:"size:8" json:"merchant_id"`
	MsgTypeID  string    `gorm:"size:4" json:"msg_type_id"`
	CodeType   int       `json:"code_type"`
	Content    string    `gorm:"type:text" json:"content"`
	CreateTime time.Time `gorm:"autoCreateTime:false" json:"create_time"`
}

func (MsgContent) TableName() string {
	return "msg_contents"
}

type MsgBox struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID   string     `gorm:"size:8" json:"merchant_id"`
	TerminalID   string     `gorm:"size:64;index" json:"terminal_id"`
	MsgContentID int64      `json:"msg_content_id"`
	Status       int        `gorm:"index" json:"status"`
	SendTime     time.Time  `gorm:"autoCreateTime:false" json:"send_time"`
	ReadTime     *time.Time `json:"read_time"`
	ReplyTime    *time.Time `json:"reply_time"`
	ReplyCode    string     `gorm:"size:4" json:"reply_code"`
	ReplyContent string     `gorm:"type:text" json:"reply_content"`
	Content      MsgContent `gorm:"foreignKey:MsgContentID" json:"content"`
}

func (MsgBox) TableName() string {
	return "msg_boxes"
}

type UnionPayTerminalKey struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID   string    `gorm:"size:8;index" json:"merchant_id"`
	UPMerchantID string    `gorm:"size:15" json:"up_merchant_id"`
	UPTerminalID string    `gorm:"size:8" json:"up_terminal_id"`
	UPKey        string    `gorm:"size:64" json:"up_key"`
	IsInUse      bool      `gorm:"index" json:"is_in_use"`
	MachineID    string    `gorm:"size:20" json:"machine_id"`
	LineID       string    `gorm:"size:16" json:"line_id"`
	BusNO        string    `gorm:"size:16" json:"bus_no"`
	UpdateTime   time.Time `gorm:"autoUpdateTime:false" json:"update_time"`
}

func (UnionPayTerminalKey) TableName() string {
	return "union_pay_terminal_keys"
}

type FilePublish struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID    string    `gorm:"size:8;index" json:"merchant_id"`
	FileTypeID    string    `gorm:"size:11" json:"file_type_id"`
	FileVer       string    `gorm:"size:4" json:"file_ver"`
	Crc           string    `gorm:"size:8" json:"crc"`
	FileSize      int       `json:"file_size"`
	FilePath      string    `gorm:"size:255" json:"file_path"`
	PublishType   int       `json:"publish_type"`
	PublishTarget string    `gorm:"size:64" json:"publish_target"`
	OperationTime time.Time `gorm:"autoCreateTime:false" json:"operation_time"`
}

func (FilePublish) TableName() string {
	return "file_publishes"
}

type TerminalEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID string    `gorm:"size:8" json:"merchant_id"`
	TerminalID string    `gorm:"size:64;index" json:"terminal_id"`
	EventType  int       `json:"event_type"`
	Severity   int       `json:"severity"`
	Remark     string    `gorm:"size:255" json:"remark"`
	EventTime  time.Time `gorm:"autoCreateTime:false" json:"event_time"`
}

func (TerminalEvent) TableName() string {
	return "terminal_events"
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{
		&Terminal{},
		&TerminalStatus{},
		&ConsumeData{},
		&IncrementContent{},
		&MsgContent{},
		&MsgBox{},
		&UnionPayTerminalKey{},
		&FilePublish{},
		&TerminalEvent{},
	}
}
