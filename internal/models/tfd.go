package models

import (
	"time"

	"gorm.io/gorm"
)

// Municipality is a prefeitura registered in the TFD program.
type Municipality struct {
	gorm.Model
	Name  string `gorm:"not null" json:"name"`
	State string `gorm:"size:2" json:"state"`
	IBGE  string `gorm:"uniqueIndex" json:"ibge_code"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// TripRequest is a patient's request for out-of-town treatment travel.
type TripRequest struct {
	gorm.Model
	MunicipalityID uint      `gorm:"index" json:"municipality_id"`
	PatientName    string    `gorm:"not null" json:"patient_name"`
	Destination    string    `json:"destination"`
	TravelDate     time.Time `json:"travel_date"`
	Status         string    `json:"status"`
	Companions     int       `json:"companions"`
}

func (t *TripRequest) BeforeSave(*gorm.DB) error {
	t.TravelDate = t.TravelDate.UTC()
	return nil
}

// AccessLog records one authenticated API request.
type AccessLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	ClientIP  string    `json:"client_ip"`
	LatencyMs int64     `json:"latency_ms"`
}

func (l *AccessLog) BeforeCreate(*gorm.DB) error {
	l.CreatedAt = l.CreatedAt.UTC()
	return nil
}
