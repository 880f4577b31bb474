package session

import (
	"time"

	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
	"gorm.io/datatypes"
)

// Session is a snapshot of one terminal's registry entry.
type Session struct {
	ID           string
	MerchantID   string
	MachineID    string
	DeviceNO     string
	LineNO       string
	TerminalType string

	ActiveStatus       int
	LastActiveTime     time.Time
	LoginInTime        time.Time
	LoginOffTime       *time.Time
	ConnectionProtocol string
	EndPoint           string
	Token              string

	FileVersions map[string]repo.FileVersion
	Properties   map[string]string

	CreateTime       time.Time
	StatusUpdateTime *time.Time
}

func (s *Session) Active() bool {
	return s.ActiveStatus == repo.ActiveStatusActive
}

func (s *Session) target() publish.Target {
	return publish.Target{MerchantID: s.MerchantID, LineNO: s.LineNO, TerminalID: s.ID}
}

func (s Session) clone() Session {
	out := s
	out.FileVersions = make(map[string]repo.FileVersion, len(s.FileVersions))
	for k, v := range s.FileVersions {
		out.FileVersions[k] = v
	}
	out.Properties = make(map[string]string, len(s.Properties))
	for k, v := range s.Properties {
		out.Properties[k] = v
	}
	if s.LoginOffTime != nil {
		t := *s.LoginOffTime
		out.LoginOffTime = &t
	}
	if s.StatusUpdateTime != nil {
		t := *s.StatusUpdateTime
		out.StatusUpdateTime = &t
	}
	return out
}

// SignInData is what a terminal reports when it signs in.
type SignInData struct {
	ID                 string
	MerchantID         string
	MachineID          string
	DeviceNO           string
	LineNO             string
	TerminalType       string
	ConnectionProtocol string
	EndPoint           string
	Token              string
	// ClientVersions maps content-type code to the version the terminal runs.
	ClientVersions map[string]string
	Properties     map[string]string
}

// Report carries the optional state a heartbeat may include. Nil maps mean
// "not reported".
type Report struct {
	ClientVersions map[string]string
	Properties     map[string]string
}

func (s *Session) record() *repo.TerminalRecord {
	props := make(datatypes.JSONMap, len(s.Properties))
	for k, v := range s.Properties {
		props[k] = v
	}
	return &repo.TerminalRecord{
		Terminal: repo.Terminal{
			ID:               s.ID,
			MerchantID:       s.MerchantID,
			MachineID:        s.MachineID,
			DeviceNO:         s.DeviceNO,
			LineNO:           s.LineNO,
			TerminalType:     s.TerminalType,
			CreateTime:       s.CreateTime,
			StatusUpdateTime: s.StatusUpdateTime,
		},
		Status: repo.TerminalStatus{
			ID:                 s.ID,
			ActiveStatus:       s.ActiveStatus,
			LastActiveTime:     s.LastActiveTime,
			LoginInTime:        s.LoginInTime,
			LoginOffTime:       s.LoginOffTime,
			ConnectionProtocol: s.ConnectionProtocol,
			EndPoint:           s.EndPoint,
			Token:              s.Token,
			FileVersions:       datatypes.NewJSONType(s.FileVersions),
			Properties:         props,
		},
	}
}

func fromRecord(rec repo.TerminalRecord) Session {
	props := make(map[string]string, len(rec.Status.Properties))
	for k, v := range rec.Status.Properties {
		if str, ok := v.(string); ok {
			props[k] = str
		}
	}
	versions := rec.Status.FileVersions.Data()
	if versions == nil {
		versions = make(map[string]repo.FileVersion)
	}
	return Session{
		ID:                 rec.Terminal.ID,
		MerchantID:         rec.Terminal.MerchantID,
		MachineID:          rec.Terminal.MachineID,
		DeviceNO:           rec.Terminal.DeviceNO,
		LineNO:             rec.Terminal.LineNO,
		TerminalType:       rec.Terminal.TerminalType,
		ActiveStatus:       rec.Status.ActiveStatus,
		LastActiveTime:     rec.Status.LastActiveTime,
		LoginInTime:        rec.Status.LoginInTime,
		LoginOffTime:       rec.Status.LoginOffTime,
		ConnectionProtocol: rec.Status.ConnectionProtocol,
		EndPoint:           rec.Status.EndPoint,
		Token:              rec.Status.Token,
		FileVersions:       versions,
		Properties:         props,
		CreateTime:         rec.Terminal.CreateTime,
		StatusUpdateTime:   rec.Terminal.StatusUpdateTime,
	}
}
