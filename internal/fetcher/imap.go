package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

type imapDialFunc func(e Endpoint) (*client.Client, error)

func dialIMAP(e Endpoint) (*client.Client, error) {
	return client.DialWithDialer(&net.Dialer{Timeout: e.Timeout}, e.Address())
}

func dialIMAPTLS(e Endpoint) (*client.Client, error) {
	return client.DialWithDialerTLS(&net.Dialer{Timeout: e.Timeout}, e.Address(), e.tlsConfig())
}

// imapFetcher searches by UID and fetches with BODY.PEEK[] so archiving
// never changes the \Seen flag
type imapFetcher struct {
	endpoint Endpoint
	dial     imapDialFunc
	client   *client.Client
}

func newIMAPFetcher(e Endpoint, dial imapDialFunc) *imapFetcher {
	return &imapFetcher{endpoint: e, dial: dial}
}

// watch aborts the connection when ctx ends mid-command
func (f *imapFetcher) watch(ctx context.Context) func() bool {
	c := f.client
	return context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
}

func (f *imapFetcher) Login(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewFetchError("connect", f.endpoint.Account, apperrors.ErrConnection, err)
	}

	c, err := f.dial(f.endpoint)
	if err != nil {
		return apperrors.NewFetchError("connect", f.endpoint.Account, apperrors.ErrConnection, err)
	}
	c.Timeout = f.endpoint.Timeout
	f.client = c

	stop := f.watch(ctx)
	defer stop()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		_ = f.Close()
		return apperrors.NewFetchError("login", f.endpoint.Account, apperrors.ErrAuthentication, errors.New(serverText(err)))
	}

	f.endpoint.Logger.Debug("imap login succeeded", slog.String("host", f.endpoint.Host))
	return nil
}

func (f *imapFetcher) ListMailboxes(ctx context.Context) ([]string, error) {
	if f.client == nil {
		return nil, apperrors.NewFetchError("list", f.endpoint.Account, apperrors.ErrMailbox, errNotLoggedIn)
	}
	stop := f.watch(ctx)
	defer stop()

	infos := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- f.client.List("", "*", infos)
	}()

	var names []string
	for info := range infos {
		names = append(names, info.Name)
	}
	if err := <-done; err != nil {
		return nil, apperrors.NewFetchError("list", f.endpoint.Account, apperrors.ErrMailbox, errors.New(serverText(err)))
	}
	return names, nil
}

func (f *imapFetcher) Search(ctx context.Context, mailbox string, criterion Criterion) ([]Handle, error) {
	if f.client == nil {
		return nil, apperrors.NewFetchError("search", f.endpoint.Account, apperrors.ErrMailbox, errNotLoggedIn)
	}
	stop := f.watch(ctx)
	defer stop()

	if _, err := f.client.Select(mailbox, true); err != nil {
		return nil, apperrors.NewFetchError("select "+mailbox, f.endpoint.Account, apperrors.ErrMailbox, errors.New(serverText(err)))
	}

	uids, err := f.client.UidSearch(criterion.SearchCriteria(f.endpoint.Now()))
	if err != nil {
		return nil, apperrors.NewFetchError("search "+criterion.String(), f.endpoint.Account, apperrors.ErrMailbox, errors.New(serverText(err)))
	}

	handles := make([]Handle, len(uids))
	for i, uid := range uids {
		handles[i] = Handle(uid)
	}
	f.endpoint.Logger.Debug("imap search",
		slog.String("mailbox", mailbox),
		slog.String("criterion", criterion.String()),
		slog.Int("matches", len(handles)),
	)
	return handles, nil
}

func (f *imapFetcher) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	op := "fetch " + h.String()
	if f.client == nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, errNotLoggedIn)
	}
	stop := f.watch(ctx)
	defer stop()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(h))
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.client.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var (
		raw     []byte
		readErr error
	)
	for msg := range messages {
		if body := msg.GetBody(section); body != nil && raw == nil {
			raw, readErr = io.ReadAll(body)
		}
	}
	if err := <-done; err != nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, errors.New(serverText(err)))
	}
	if readErr != nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, readErr)
	}
	if raw == nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, fmt.Errorf("server returned no body for uid %d", h))
	}
	return raw, nil
}

func (f *imapFetcher) Close() error {
	if f.client == nil {
		return nil
	}
	c := f.client
	f.client = nil
	if c.State() == imap.LogoutState {
		return nil
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
		f.endpoint.Logger.Debug("imap logout failed", slog.Any("error", err))
	}
	return nil
}
