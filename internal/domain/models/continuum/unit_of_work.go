package continuum

import "meridian/internal/domain/models/llm"

// UnitOfWork accumulates a turn's pending writes and is committed in a
// single transaction by the continuum repository (§4.10, §3).
type UnitOfWork struct {
	ContinuumID     string
	UserMessage     *llm.Message
	AssistantMessage *llm.Message
	MetadataUpdated bool

	RetrievalLog *RetrievalLogEntry
}

func NewUnitOfWork(continuumID string) *UnitOfWork {
	return &UnitOfWork{ContinuumID: continuumID}
}

func (u *UnitOfWork) AddMessages(user, assistant llm.Message) {
	u.UserMessage = &user
	u.AssistantMessage = &assistant
}

func (u *UnitOfWork) MarkMetadataUpdated() {
	u.MetadataUpdated = true
}

func (u *UnitOfWork) SetRetrievalLog(entry RetrievalLogEntry) {
	u.RetrievalLog = &entry
}

// RetrievalLogEntry is an append-only audit row for offline evaluation.
type RetrievalLogEntry struct {
	ContinuumID       string
	RawQuery          string
	Fingerprint       string
	SurfacedMemoryIDs []string
}
