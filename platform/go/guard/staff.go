package guard

import (
	"context"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// Attributes granting access to staff commands.
const (
	AttributeTeam      = "TEAM"
	AttributeDeveloper = "DEVELOPER"
)

// StaffChecker grants staff access to configured developer IDs and to users
// carrying TEAM or DEVELOPER. Storage errors deny access.
type StaffChecker struct {
	reader     AttributeReader
	developers map[int64]struct{}
}

func NewStaffChecker(reader AttributeReader, developerIDs []int64) *StaffChecker {
	if reader == nil {
		panic("attribute reader is required")
	}
	devs := make(map[int64]struct{}, len(developerIDs))
	for _, id := range developerIDs {
		devs[id] = struct{}{}
	}
	return &StaffChecker{reader: reader, developers: devs}
}

// IsDeveloper checks only the configured list.
func (s *StaffChecker) IsDeveloper(userID int64) bool {
	_, ok := s.developers[userID]
	return ok
}

func (s *StaffChecker) IsStaff(ctx context.Context, userID int64) (bool, error) {
	if s.IsDeveloper(userID) {
		return true, nil
	}
	for _, name := range []string{AttributeDeveloper, AttributeTeam} {
		ok, err := s.reader.HasAttribute(ctx, persistence.EntityUser, userID, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
