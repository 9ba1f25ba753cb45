package auth

// Subject is the explicit identity a verification runs for: either a
// registered user (authenticated via JWT) or an anonymous kiosk session.
// It is passed into the verification flow as a parameter; nothing below the
// handlers reads ambient auth state.
type Subject struct {
	ID        string
	Anonymous bool
}

// UserSubject builds a subject for an authenticated user.
func UserSubject(userID string) Subject {
	return Subject{ID: userID}
}

// SessionSubject builds a subject for an anonymous scanning session.
func SessionSubject(sessionID string) Subject {
	return Subject{ID: sessionID, Anonymous: true}
}
