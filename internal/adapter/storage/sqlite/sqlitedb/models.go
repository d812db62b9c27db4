package sqlitedb

import (
	"database/sql"
	"time"
)

type Job struct {
	Seq                 int64
	ID                  string
	ExternalID          string
	VideoUrl            string
	SimilarityThreshold float64
	CallbackUrl         string
	Status              string
	Progress            float64
	Metadata            string
	ErrorMessage        string
	ResultRef           string
	Version             int64
	CreatedAt           time.Time
	StartTime           sql.NullTime
	EndTime             sql.NullTime
}
