package store

import (
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/models"
	"maxrelay/internal/storage"
)

type subscribersDocument struct {
	Users map[string]models.UserProfile `json:"users"`
}

// SubscriptionStore maps users to the source chats they follow. A reverse
// index from chat to users is rebuilt alongside every mutation so that the
// per-message subscriber lookup does not scan all users.
type SubscriptionStore struct {
	mu     sync.Mutex
	doc    storage.Document
	logger *apperrors.Logger
	users  map[int64]*models.UserProfile
	byChat map[int64]map[int64]struct{}
}

func NewSubscriptionStore(doc storage.Document, logger *logrus.Logger) *SubscriptionStore {
	s := &SubscriptionStore{
		doc:    doc,
		logger: apperrors.NewLogger(logger),
		users:  make(map[int64]*models.UserProfile),
		byChat: make(map[int64]map[int64]struct{}),
	}

	var stored subscribersDocument
	if loadDocument(doc, &stored, s.logger) {
		for key, profile := range stored.Users {
			userID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				s.logger.LogWarn(apperrors.NewCorruptionError(doc.Name(), err), "Skipping subscriber with non-numeric user id")
				continue
			}
			p := profile
			p.Chats = normalizeChats(p.Chats)
			s.users[userID] = &p
			for _, chatID := range p.Chats {
				s.index(userID, chatID)
			}
		}
	}
	return s
}

func normalizeChats(chats []int64) []int64 {
	out := make([]int64, 0, len(chats))
	seen := make(map[int64]bool, len(chats))
	for _, c := range chats {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *SubscriptionStore) index(userID, chatID int64) {
	set, ok := s.byChat[chatID]
	if !ok {
		set = make(map[int64]struct{})
		s.byChat[chatID] = set
	}
	set[userID] = struct{}{}
}

func (s *SubscriptionStore) unindex(userID, chatID int64) {
	set, ok := s.byChat[chatID]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.byChat, chatID)
	}
}

func (s *SubscriptionStore) save() error {
	stored := subscribersDocument{Users: make(map[string]models.UserProfile, len(s.users))}
	for userID, profile := range s.users {
		p := *profile
		if p.Chats == nil {
			p.Chats = []int64{}
		}
		stored.Users[strconv.FormatInt(userID, 10)] = p
	}
	return saveDocument(s.doc, stored)
}

func (s *SubscriptionStore) user(userID int64) (*models.UserProfile, bool) {
	profile, ok := s.users[userID]
	if !ok {
		profile = &models.UserProfile{Chats: []int64{}}
		s.users[userID] = profile
	}
	return profile, !ok
}

// EnsureUser creates the profile if needed and refreshes username and name
// with any non-empty values. Existing values are never cleared.
func (s *SubscriptionStore) EnsureUser(userID int64, username, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, created := s.user(userID)
	changed := created
	if username != "" && profile.Username != username {
		profile.Username = username
		changed = true
	}
	if name != "" && profile.Name != name {
		profile.Name = name
		changed = true
	}
	if !changed {
		return nil
	}
	return s.save()
}

// Subscribe adds chatID to the user's set, creating the user if unknown.
func (s *SubscriptionStore) Subscribe(userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, created := s.user(userID)
	i := sort.Search(len(profile.Chats), func(i int) bool { return profile.Chats[i] >= chatID })
	if i < len(profile.Chats) && profile.Chats[i] == chatID {
		if created {
			return s.save()
		}
		return nil
	}
	profile.Chats = append(profile.Chats, 0)
	copy(profile.Chats[i+1:], profile.Chats[i:])
	profile.Chats[i] = chatID
	s.index(userID, chatID)
	return s.save()
}

// Unsubscribe removes chatID from the user's set; absent pairs are a no-op.
func (s *SubscriptionStore) Unsubscribe(userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.users[userID]
	if !ok || !removeChat(profile, chatID) {
		return nil
	}
	s.unindex(userID, chatID)
	return s.save()
}

func removeChat(profile *models.UserProfile, chatID int64) bool {
	for i, c := range profile.Chats {
		if c == chatID {
			profile.Chats = append(profile.Chats[:i], profile.Chats[i+1:]...)
			return true
		}
	}
	return false
}

// GetUserChats returns the user's chats in ascending order, empty if unknown.
func (s *SubscriptionStore) GetUserChats(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.users[userID]
	if !ok {
		return []int64{}
	}
	return append([]int64{}, profile.Chats...)
}

// GetSubscribersForChat returns the ids of users following chatID, ascending.
func (s *SubscriptionStore) GetSubscribersForChat(chatID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.byChat[chatID]
	out := make([]int64, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListUsers returns a copy of every profile keyed by user id.
func (s *SubscriptionStore) ListUsers() map[int64]models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]models.UserProfile, len(s.users))
	for userID, profile := range s.users {
		p := *profile
		p.Chats = append([]int64{}, profile.Chats...)
		out[userID] = p
	}
	return out
}

// RemoveGroupFromAll strips chatID from every user's set.
func (s *SubscriptionStore) RemoveGroupFromAll(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.byChat[chatID]
	if len(set) == 0 {
		return nil
	}
	for userID := range set {
		if profile, ok := s.users[userID]; ok {
			removeChat(profile, chatID)
		}
	}
	delete(s.byChat, chatID)
	return s.save()
}
