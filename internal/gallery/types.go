// Package gallery is the client for the remote case-gallery API: the
// upstream system of record for procedures, patient cases and doctors.
//
// Every request is scoped to one tenant (api token) and one website
// property. Entities carry a content fingerprint so the sync engine can
// skip unchanged items without diffing fields.
package gallery

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"encoding/json"
	"time"
)

// Procedure is a treatment category. Procedures form a shallow tree via
// ParentID and map to taxonomy terms on the WordPress side.
type Procedure struct {
	ID          int64  `json:"id"`
	ParentID    int64  `json:"parent_id,omitempty"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

// Photo is one before/after image attached to a case.
type Photo struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// Case is one patient case with its photo sets. A case can belong to
// several procedures; the sync engine registers one mapping per procedure
// context.
type Case struct {
	ID            int64     `json:"id"`
	ProcedureIDs  []int64   `json:"procedure_ids"`
	DoctorID      int64     `json:"doctor_id,omitempty"`
	Title         string    `json:"title"`
	Details       string    `json:"details,omitempty"`
	PatientAge    int       `json:"patient_age,omitempty"`
	PatientGender string    `json:"patient_gender,omitempty"`
	Photos        []Photo   `json:"photos,omitempty"`
	Approved      bool      `json:"approved"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Doctor is a provider profile attached to cases.
type Doctor struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Bio      string `json:"bio,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Fingerprint returns the procedure's content digest.
func (p *Procedure) Fingerprint() string {
	return fingerprint(p)
}

// Fingerprint returns the case's content digest. Any change to photos,
// narrative or procedure assignment produces a new value.
func (c *Case) Fingerprint() string {
	return fingerprint(c)
}

// Fingerprint returns the doctor's content digest.
func (d *Doctor) Fingerprint() string {
	return fingerprint(d)
}

// fingerprint digests the JSON encoding of v to a 32-character hex string.
// Marshal field order is fixed by declaration order, so equal content
// always digests equally.
func fingerprint(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := md5.Sum(data) //nolint:gosec // change detection, not security
	return hex.EncodeToString(sum[:])
}
