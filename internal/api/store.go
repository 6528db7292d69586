package api

import (
	"sync"

	"github.com/google/uuid"
)

// TranslationStore keeps finished translations in memory until they are
// deleted.
type TranslationStore struct {
	mu           sync.Mutex
	translations map[string]TranslationResponse
}

func NewTranslationStore() *TranslationStore {
	return &TranslationStore{
		translations: make(map[string]TranslationResponse),
	}
}

func (s *TranslationStore) Save(resp TranslationResponse) {
	s.mu.Lock()
	s.translations[resp.ID] = resp
	s.mu.Unlock()
}

func (s *TranslationStore) Get(id string) (TranslationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.translations[id]
	return resp, ok
}

func (s *TranslationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.translations[id]; !ok {
		return false
	}
	delete(s.translations, id)
	return true
}

func (s *TranslationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.translations)
}

func newTranslationID() string {
	return "tr_" + uuid.NewString()
}
