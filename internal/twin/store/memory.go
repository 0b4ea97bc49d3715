package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/crypto/bcrypt"

	pkgstore "github.com/wondertwin-ai/clerkflow/pkg/store"
)

// DefaultRegion is used to parse phone numbers given without a country code.
const DefaultRegion = "US"

// MemoryStore holds all Frontend API twin state in memory.
type MemoryStore struct {
	Users          *pkgstore.Table[User]
	EmailAddresses *pkgstore.Table[EmailAddress]
	PhoneNumbers   *pkgstore.Table[PhoneNumber]
	Clients        *pkgstore.Table[Client]
	Sessions       *pkgstore.Table[Session]
	SignIns        *pkgstore.Table[SignIn]
	SignUps        *pkgstore.Table[SignUp]
	Links          *pkgstore.Table[Link]
	Tickets        *pkgstore.Table[Ticket]
	Messages       *pkgstore.Table[Message]

	Clock *pkgstore.Clock
}

// New creates a new MemoryStore with empty state.
func New() *MemoryStore {
	return &MemoryStore{
		Users:          pkgstore.NewTable[User]("user"),
		EmailAddresses: pkgstore.NewTable[EmailAddress]("idn"),
		PhoneNumbers:   pkgstore.NewTable[PhoneNumber]("idn_phone"),
		Clients:        pkgstore.NewTable[Client]("client"),
		Sessions:       pkgstore.NewTable[Session]("sess"),
		SignIns:        pkgstore.NewTable[SignIn]("sia"),
		SignUps:        pkgstore.NewTable[SignUp]("sua"),
		Links:          pkgstore.NewTable[Link]("link"),
		Tickets:        pkgstore.NewTable[Ticket]("tkt"),
		Messages:       pkgstore.NewTable[Message]("msg"),
		Clock:          pkgstore.NewClock(),
	}
}

// stateSnapshot is the JSON-serializable state for admin endpoints.
type stateSnapshot struct {
	Users          map[string]User         `json:"users"`
	EmailAddresses map[string]EmailAddress `json:"email_addresses"`
	PhoneNumbers   map[string]PhoneNumber  `json:"phone_numbers"`
	Clients        map[string]Client       `json:"clients,omitempty"`
	Sessions       map[string]Session      `json:"sessions,omitempty"`
	SignIns        map[string]SignIn       `json:"sign_ins,omitempty"`
	SignUps        map[string]SignUp       `json:"sign_ups,omitempty"`
	Tickets        map[string]Ticket       `json:"tickets,omitempty"`
}

// Snapshot returns the full state as a JSON-serializable value. Outstanding
// links and delivered messages are transient and left out.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Users:          s.Users.Snapshot(),
		EmailAddresses: s.EmailAddresses.Snapshot(),
		PhoneNumbers:   s.PhoneNumbers.Snapshot(),
		Clients:        s.Clients.Snapshot(),
		Sessions:       s.Sessions.Snapshot(),
		SignIns:        s.SignIns.Snapshot(),
		SignUps:        s.SignUps.Snapshot(),
		Tickets:        s.Tickets.Snapshot(),
	}
}

// LoadState replaces the full state from a JSON body.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.Users.LoadSnapshot(snap.Users)
	s.EmailAddresses.LoadSnapshot(snap.EmailAddresses)
	s.PhoneNumbers.LoadSnapshot(snap.PhoneNumbers)
	s.Clients.LoadSnapshot(snap.Clients)
	s.Sessions.LoadSnapshot(snap.Sessions)
	s.SignIns.LoadSnapshot(snap.SignIns)
	s.SignUps.LoadSnapshot(snap.SignUps)
	s.Tickets.LoadSnapshot(snap.Tickets)
	s.Links.Reset()
	s.Messages.Reset()
	return nil
}

// Reset clears all state.
func (s *MemoryStore) Reset() {
	s.Users.Reset()
	s.EmailAddresses.Reset()
	s.PhoneNumbers.Reset()
	s.Clients.Reset()
	s.Sessions.Reset()
	s.SignIns.Reset()
	s.SignUps.Reset()
	s.Links.Reset()
	s.Tickets.Reset()
	s.Messages.Reset()
	s.Clock.Reset()
}

// ErrIdentifierTaken is returned when an email address or phone number
// already belongs to a user.
var ErrIdentifierTaken = errors.New("identifier already taken")

// ErrInvalidPhoneNumber is returned for phone numbers that cannot be parsed.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhone parses a phone number and formats it as E.164.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhoneNumber, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// FindEmail returns the email address record matching addr, case-insensitively.
func (s *MemoryStore) FindEmail(addr string) (EmailAddress, bool) {
	e, ok := s.EmailAddresses.Find(func(e EmailAddress) bool {
		return strings.EqualFold(e.EmailAddress, addr)
	})
	return e, ok
}

// FindPhone returns the phone number record matching raw once normalised.
func (s *MemoryStore) FindPhone(raw string) (PhoneNumber, bool) {
	normalized, err := NormalizePhone(raw)
	if err != nil {
		return PhoneNumber{}, false
	}
	p, ok := s.PhoneNumbers.Find(func(p PhoneNumber) bool {
		return p.PhoneNumber == normalized
	})
	return p, ok
}

// FindUserByIdentifier resolves an email address, phone number or username.
func (s *MemoryStore) FindUserByIdentifier(identifier string) (User, bool) {
	var userID string
	if strings.Contains(identifier, "@") {
		if e, ok := s.FindEmail(identifier); ok {
			userID = e.UserID
		}
	} else if p, ok := s.FindPhone(identifier); ok {
		userID = p.UserID
	}
	if userID == "" {
		u, ok := s.Users.Find(func(u User) bool {
			return u.Username != "" && strings.EqualFold(u.Username, identifier)
		})
		return u, ok
	}
	return s.Users.Get(userID)
}

// UserEmails returns a user's email addresses in creation order.
func (s *MemoryStore) UserEmails(userID string) []EmailAddress {
	return s.EmailAddresses.Where(func(e EmailAddress) bool { return e.UserID == userID })
}

// UserPhones returns a user's phone numbers in creation order.
func (s *MemoryStore) UserPhones(userID string) []PhoneNumber {
	return s.PhoneNumbers.Where(func(p PhoneNumber) bool { return p.UserID == userID })
}

// ClientSessions returns a client's sessions in creation order.
func (s *MemoryStore) ClientSessions(clientID string) []Session {
	return s.Sessions.Where(func(sess Session) bool { return sess.ClientID == clientID })
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// UserSeed is the body of POST /admin/users.
type UserSeed struct {
	Username       string      `json:"username,omitempty"`
	FirstName      string      `json:"first_name,omitempty"`
	LastName       string      `json:"last_name,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	Password       string      `json:"password,omitempty"`
	EmailAddresses []string    `json:"email_addresses,omitempty"`
	PhoneNumbers   []PhoneSeed `json:"phone_numbers,omitempty"`
	TOTPSecret     string      `json:"totp_secret,omitempty"`
	BackupCodes    []string    `json:"backup_codes,omitempty"`
	OAuthProviders []string    `json:"oauth_providers,omitempty"`
}

// PhoneSeed is one seeded phone number.
type PhoneSeed struct {
	PhoneNumber             string `json:"phone_number"`
	ReservedForSecondFactor bool   `json:"reserved_for_second_factor,omitempty"`
}

// SeededUser is the response of POST /admin/users.
type SeededUser struct {
	User           User           `json:"user"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
	PhoneNumbers   []PhoneNumber  `json:"phone_numbers"`
}

// SeedUser creates a user with verified identifiers from a JSON UserSeed.
func (s *MemoryStore) SeedUser(data []byte) (any, error) {
	var seed UserSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode user seed: %w", err)
	}
	if len(seed.EmailAddresses) == 0 && len(seed.PhoneNumbers) == 0 && seed.Username == "" {
		return nil, errors.New("a user needs an email address, phone number or username")
	}
	return s.CreateUser(seed)
}

// CreateUser stores a user and its identifiers, all marked verified.
func (s *MemoryStore) CreateUser(seed UserSeed) (SeededUser, error) {
	for _, addr := range seed.EmailAddresses {
		if _, taken := s.FindEmail(addr); taken {
			return SeededUser{}, fmt.Errorf("%w: %s", ErrIdentifierTaken, addr)
		}
	}
	phones := make([]string, 0, len(seed.PhoneNumbers))
	for _, p := range seed.PhoneNumbers {
		normalized, err := NormalizePhone(p.PhoneNumber)
		if err != nil {
			return SeededUser{}, err
		}
		if _, taken := s.FindPhone(normalized); taken {
			return SeededUser{}, fmt.Errorf("%w: %s", ErrIdentifierTaken, normalized)
		}
		phones = append(phones, normalized)
	}

	now := s.Clock.Now().UnixMilli()
	user := User{
		ID:             s.Users.NextID(),
		Username:       seed.Username,
		FirstName:      seed.FirstName,
		LastName:       seed.LastName,
		ImageURL:       seed.ImageURL,
		TOTPSecret:     seed.TOTPSecret,
		BackupCodes:    seed.BackupCodes,
		OAuthProviders: seed.OAuthProviders,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if seed.Password != "" {
		hash, err := HashPassword(seed.Password)
		if err != nil {
			return SeededUser{}, err
		}
		user.PasswordHash = hash
	}

	out := SeededUser{EmailAddresses: []EmailAddress{}, PhoneNumbers: []PhoneNumber{}}
	for _, addr := range seed.EmailAddresses {
		e := EmailAddress{
			ID:           s.EmailAddresses.NextID(),
			UserID:       user.ID,
			EmailAddress: addr,
			Verification: &Verification{Status: VerificationVerified, Strategy: "admin"},
			CreatedAt:    now,
		}
		s.EmailAddresses.Set(e.ID, e)
		if user.PrimaryEmailAddressID == "" {
			user.PrimaryEmailAddressID = e.ID
		}
		out.EmailAddresses = append(out.EmailAddresses, e)
	}
	for i, number := range phones {
		p := PhoneNumber{
			ID:                      s.PhoneNumbers.NextID(),
			UserID:                  user.ID,
			PhoneNumber:             number,
			ReservedForSecondFactor: seed.PhoneNumbers[i].ReservedForSecondFactor,
			DefaultSecondFactor:     seed.PhoneNumbers[i].ReservedForSecondFactor,
			Verification:            &Verification{Status: VerificationVerified, Strategy: "admin"},
			CreatedAt:               now,
		}
		s.PhoneNumbers.Set(p.ID, p)
		if user.PrimaryPhoneNumberID == "" {
			user.PrimaryPhoneNumberID = p.ID
		}
		out.PhoneNumbers = append(out.PhoneNumbers, p)
	}
	s.Users.Set(user.ID, user)
	out.User = user
	return out, nil
}

// DeleteUser removes a user together with its identifiers and sessions.
func (s *MemoryStore) DeleteUser(userID string) bool {
	if !s.Users.Delete(userID) {
		return false
	}
	for _, e := range s.UserEmails(userID) {
		s.EmailAddresses.Delete(e.ID)
	}
	for _, p := range s.UserPhones(userID) {
		s.PhoneNumbers.Delete(p.ID)
	}
	ids := s.Sessions.IDsWhere(func(sess Session) bool { return sess.UserID == userID })
	for _, id := range ids {
		s.Sessions.Delete(id)
	}
	return true
}

// Deliver records an outbound email or SMS.
func (s *MemoryStore) Deliver(msg Message) Message {
	msg.ID = s.Messages.NextID()
	msg.CreatedAt = s.Clock.Now().UnixMilli()
	s.Messages.Set(msg.ID, msg)
	return msg
}

// Outbox returns the messages delivered to a recipient, oldest first. An empty
// recipient returns every message.
func (s *MemoryStore) Outbox(to string) any {
	msgs := s.Messages.Where(func(m Message) bool {
		return to == "" || strings.EqualFold(m.To, to)
	})
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs
}
