package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tpr-labs/nriy/internal/store"
)

// timeLayout is fixed width so PocketBase's text sort matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type PocketBaseStore struct {
	baseURL string
	client  *http.Client
}

type Option func(*PocketBaseStore)

func WithHTTPClient(client *http.Client) Option {
	return func(s *PocketBaseStore) {
		if client != nil {
			s.client = client
		}
	}
}

func New(baseURL string, opts ...Option) (*PocketBaseStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("pocketbase url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid pocketbase url: %w", err)
	}
	s := &PocketBaseStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StatusError is a non-2xx PocketBase response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pocketbase %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type messageRecord struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type namedRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listResponse struct {
	Items []messageRecord `json:"items"`
}

func (s *PocketBaseStore) UpsertMessage(ctx context.Context, msg store.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	patch := map[string]any{"message": msg.Body}
	if strings.TrimSpace(msg.ChatID) != "" {
		patch["chat_id"] = msg.ChatID
	}
	return s.upsert(ctx, store.CollectionMessages, msg.ID, patch, messageRecord{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Message:   msg.Body,
		CreatedAt: created.UTC().Format(timeLayout),
	})
}

func (s *PocketBaseStore) UpsertUser(ctx context.Context, user store.User) error {
	return s.upsert(ctx, store.CollectionUsers, user.ID, map[string]any{"name": user.Name}, namedRecord(user))
}

func (s *PocketBaseStore) UpsertChat(ctx context.Context, chat store.Chat) error {
	return s.upsert(ctx, store.CollectionChats, chat.ID, map[string]any{"name": chat.Name}, namedRecord(chat))
}

// upsert patches an existing record and creates it on 404. A create that
// loses a race to another writer falls back to the patch.
func (s *PocketBaseStore) upsert(ctx context.Context, collection, id string, patch any, create any) error {
	err := s.do(ctx, http.MethodPatch, recordPath(collection, id), nil, patch, nil)
	if err == nil || !isStatus(err, http.StatusNotFound) {
		return err
	}
	err = s.do(ctx, http.MethodPost, recordsPath(collection), nil, create, nil)
	if err != nil && isStatus(err, http.StatusBadRequest) {
		return s.do(ctx, http.MethodPatch, recordPath(collection, id), nil, patch, nil)
	}
	return err
}

func (s *PocketBaseStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var record messageRecord
	if err := s.get(ctx, store.CollectionMessages, id, &record); err != nil {
		return nil, err
	}
	msg := record.toMessage()
	return &msg, nil
}

func (s *PocketBaseStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	var record namedRecord
	if err := s.get(ctx, store.CollectionUsers, id, &record); err != nil {
		return nil, err
	}
	return &store.User{ID: record.ID, Name: record.Name}, nil
}

func (s *PocketBaseStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var record namedRecord
	if err := s.get(ctx, store.CollectionChats, id, &record); err != nil {
		return nil, err
	}
	return &store.Chat{ID: record.ID, Name: record.Name}, nil
}

func (s *PocketBaseStore) get(ctx context.Context, collection, id string, out any) error {
	err := s.do(ctx, http.MethodGet, recordPath(collection, id), nil, nil, out)
	if isStatus(err, http.StatusNotFound) {
		return store.ErrNotFound
	}
	return err
}

func (s *PocketBaseStore) ListHistory(ctx context.Context, query store.HistoryQuery) ([]store.HistoryEntry, error) {
	params := url.Values{}
	params.Set("filter", fmt.Sprintf("chat_id = '%s'", escapeFilter(query.ChatID)))
	params.Set("sort", "-created_at,-id")
	params.Set("perPage", strconv.Itoa(query.EffectiveLimit()))
	params.Set("page", "1")
	params.Set("skipTotal", "1")

	var list listResponse
	if err := s.do(ctx, http.MethodGet, recordsPath(store.CollectionMessages), params, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) > query.EffectiveLimit() {
		list.Items = list.Items[:query.EffectiveLimit()]
	}

	userIDs := []string{}
	seen := map[string]bool{}
	for _, item := range list.Items {
		if !seen[item.UserID] {
			seen[item.UserID] = true
			userIDs = append(userIDs, item.UserID)
		}
	}
	names := make([]string, len(userIDs))
	var chatName string
	group, groupCtx := errgroup.WithContext(ctx)
	for i, userID := range userIDs {
		group.Go(func() error {
			user, err := s.GetUser(groupCtx, userID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			names[i] = user.Name
			return nil
		})
	}
	if len(list.Items) > 0 {
		group.Go(func() error {
			chat, err := s.GetChat(groupCtx, query.ChatID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			chatName = chat.Name
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	nameByID := make(map[string]string, len(userIDs))
	for i, userID := range userIDs {
		nameByID[userID] = names[i]
	}

	results := make([]store.HistoryEntry, 0, len(list.Items))
	for _, item := range list.Items {
		msg := item.toMessage()
		results = append(results, store.HistoryEntry{
			MessageID:  msg.ID,
			ChatID:     msg.ChatID,
			ChatName:   chatName,
			AuthorID:   msg.UserID,
			AuthorName: nameByID[msg.UserID],
			Body:       msg.Body,
			CreatedAt:  msg.CreatedAt,
		})
	}
	return results, nil
}

func (s *PocketBaseStore) DeleteMessage(ctx context.Context, id string) error {
	return s.delete(ctx, store.CollectionMessages, id)
}

func (s *PocketBaseStore) DeleteUser(ctx context.Context, id string) error {
	return s.delete(ctx, store.CollectionUsers, id)
}

func (s *PocketBaseStore) DeleteChat(ctx context.Context, id string) error {
	return s.delete(ctx, store.CollectionChats, id)
}

func (s *PocketBaseStore) delete(ctx context.Context, collection, id string) error {
	err := s.do(ctx, http.MethodDelete, recordPath(collection, id), nil, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (s *PocketBaseStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

func (s *PocketBaseStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *PocketBaseStore) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	endpoint := s.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pocketbase response: %w", err)
	}
	return nil
}

func (r messageRecord) toMessage() store.Message {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		created = time.Time{}
	}
	return store.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		UserID:    r.UserID,
		Body:      r.Message,
		CreatedAt: created.UTC(),
	}
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

func escapeFilter(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

func isStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == status
}
