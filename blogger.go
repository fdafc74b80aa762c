package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	blogger "google.golang.org/api/blogger/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Credentialer hands out a valid credential. *Authenticator is the real one.
type Credentialer interface {
	Credential(ctx context.Context) (*SavedAuthData, error)
}

// Client maps the Blogger operations onto single REST calls. Each call
// first asks the Credentialer for a valid credential.
//
// Listing and fetching return an empty result on any failure, deleting
// returns false. The cause is logged in both cases. Create and update return
// their errors.
type Client struct {
	auth Credentialer
	log  zerolog.Logger
	opts []option.ClientOption
}

func NewClient(auth Credentialer, logger zerolog.Logger, opts ...option.ClientOption) *Client {
	return &Client{auth: auth, log: logger, opts: opts}
}

type session struct {
	svc  *blogger.Service
	http *http.Client
}

func (c *Client) session(ctx context.Context) (*session, error) {
	sad, err := c.auth.Credential(ctx)
	if err != nil {
		return nil, err
	}

	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&sad.SavedToken))
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, c.opts...)
	svc, err := blogger.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "can't create blogger service")
	}
	return &session{svc: svc, http: hc}, nil
}

func validateContent(title, content string) error {
	if strings.TrimSpace(title) == "" {
		return ErrMissingTitle
	}
	if strings.TrimSpace(content) == "" {
		return ErrMissingContent
	}
	return nil
}

func (c *Client) ListBlogs(ctx context.Context) []Blog {
	blogs := make([]Blog, 0)
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("can't list blogs")
		return blogs
	}

	resp, err := s.svc.Blogs.ListByUser("self").Context(ctx).Do()
	if err != nil {
		c.log.Error().Err(&APIError{Op: "blogs.listByUser", Err: err}).Msg("can't list blogs")
		return blogs
	}
	for _, b := range resp.Items {
		blogs = append(blogs, blogFromAPI(b))
	}
	return blogs
}

func (c *Client) ListPosts(ctx context.Context, blogID string, maxResults int) []Post {
	posts := make([]Post, 0)
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("blog", blogID).Msg("can't list posts")
		return posts
	}

	call := s.svc.Posts.List(blogID).Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	resp, err := call.Do()
	if err != nil {
		c.log.Error().Err(&APIError{Op: "posts.list", Err: err}).Str("blog", blogID).Msg("can't list posts")
		return posts
	}
	for _, p := range resp.Items {
		posts = append(posts, postFromAPI(p))
	}
	return posts
}

// GetPost returns the zero Post if the post can't be fetched.
func (c *Client) GetPost(ctx context.Context, blogID, postID string) Post {
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("post", postID).Msg("can't get post")
		return Post{}
	}

	// Fetched raw so that the comment setting comes back too.
	p, err := s.sendPost(ctx, http.MethodGet, "posts.get", postPath(blogID, postID), nil, nil)
	if err != nil {
		c.log.Error().Err(err).Str("post", postID).Msg("can't get post")
		return Post{}
	}
	return p
}

func postPath(blogID, postID string) string {
	path := "v3/blogs/" + url.PathEscape(blogID) + "/posts"
	if postID != "" {
		path += "/" + url.PathEscape(postID)
	}
	return path
}

type postSettings struct {
	CommentSetting string `json:"commentSetting"`
}

// postBody is the insert/update payload. Blogger's generated Post type has no
// settings field, so post mutations are sent as raw JSON.
type postBody struct {
	Kind      string        `json:"kind"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Labels    []string      `json:"labels,omitempty"`
	Status    Status        `json:"status,omitempty"`
	Published string        `json:"published,omitempty"`
	URL       string        `json:"url,omitempty"`
	Settings  *postSettings `json:"settings,omitempty"`
}

func newPostBody(in PostInput) postBody {
	body := postBody{
		Kind:    "blogger#post",
		Title:   in.Title,
		Content: in.Content,
		URL:     in.URLPath,
	}
	if len(in.Labels) > 0 {
		body.Labels = in.Labels
	}
	if in.Published != nil {
		body.Published = FormatPublishDate(*in.Published)
	}
	if in.AllowComments != nil && !*in.AllowComments {
		body.Settings = &postSettings{CommentSetting: blockComments}
	}
	return body
}

func (c *Client) CreatePost(ctx context.Context, blogID string, in PostInput) (Post, error) {
	if err := validateContent(in.Title, in.Content); err != nil {
		return Post{}, err
	}
	s, err := c.session(ctx)
	if err != nil {
		return Post{}, err
	}

	body := newPostBody(in)
	body.Status = statusFor(in.Draft)
	query := url.Values{"isDraft": {strconv.FormatBool(in.Draft)}}

	p, err := s.sendPost(ctx, http.MethodPost, "posts.insert", postPath(blogID, ""), query, &body)
	if err != nil {
		return Post{}, err
	}
	c.log.Info().Str("post", p.ID).Str("status", string(p.Status)).Msg("created post")
	return p, nil
}

// UpdatePost replaces the post. A nil AllowComments sends no comment setting.
func (c *Client) UpdatePost(ctx context.Context, blogID, postID string, in PostInput) (Post, error) {
	if err := validateContent(in.Title, in.Content); err != nil {
		return Post{}, err
	}
	s, err := c.session(ctx)
	if err != nil {
		return Post{}, err
	}

	body := newPostBody(in)
	p, err := s.sendPost(ctx, http.MethodPut, "posts.update", postPath(blogID, postID), nil, &body)
	if err != nil {
		return Post{}, err
	}
	c.log.Info().Str("post", p.ID).Msg("updated post")
	return p, nil
}

// sendPost makes a raw post request, with body as JSON when not nil, and
// decodes the returned post including its comment setting.
func (s *session) sendPost(ctx context.Context, method, op, path string, query url.Values, body *postBody) (Post, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return Post{}, errors.Wrap(err, "can't encode post")
		}
		rd = bytes.NewReader(buf)
	}

	u := googleapi.ResolveRelative(s.svc.BasePath, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return Post{}, errors.Wrapf(err, "can't build %s request", op)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Post{}, &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return Post{}, &APIError{Op: op, Err: err}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Post{}, &APIError{Op: op, Err: err}
	}
	var bp blogger.Post
	if err := json.Unmarshal(data, &bp); err != nil {
		return Post{}, &APIError{Op: op, Err: errors.Wrap(err, "can't decode post")}
	}
	var extra struct {
		Settings *postSettings `json:"settings"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return Post{}, &APIError{Op: op, Err: errors.Wrap(err, "can't decode post settings")}
	}

	p := postFromAPI(&bp)
	p.CommentsBlock = extra.Settings != nil && extra.Settings.CommentSetting == blockComments
	return p, nil
}

// DeletePost reports whether the post was deleted. The failure cause is
// logged, never returned.
func (c *Client) DeletePost(ctx context.Context, blogID, postID string) bool {
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("post", postID).Msg("can't delete post")
		return false
	}
	if err := s.svc.Posts.Delete(blogID, postID).Context(ctx).Do(); err != nil {
		c.log.Error().Err(&APIError{Op: "posts.delete", Err: err}).Str("post", postID).Msg("can't delete post")
		return false
	}
	return true
}

func (c *Client) ListPages(ctx context.Context, blogID string, maxResults int) []Page {
	pages := make([]Page, 0)
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("blog", blogID).Msg("can't list pages")
		return pages
	}

	call := s.svc.Pages.List(blogID).Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	resp, err := call.Do()
	if err != nil {
		c.log.Error().Err(&APIError{Op: "pages.list", Err: err}).Str("blog", blogID).Msg("can't list pages")
		return pages
	}
	for _, p := range resp.Items {
		pages = append(pages, pageFromAPI(p))
	}
	return pages
}

// GetPage returns the zero Page if the page can't be fetched.
func (c *Client) GetPage(ctx context.Context, blogID, pageID string) Page {
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("page", pageID).Msg("can't get page")
		return Page{}
	}

	p, err := s.svc.Pages.Get(blogID, pageID).Context(ctx).Do()
	if err != nil {
		c.log.Error().Err(&APIError{Op: "pages.get", Err: err}).Str("page", pageID).Msg("can't get page")
		return Page{}
	}
	return pageFromAPI(p)
}

func (c *Client) CreatePage(ctx context.Context, blogID string, in PageInput) (Page, error) {
	if err := validateContent(in.Title, in.Content); err != nil {
		return Page{}, err
	}
	s, err := c.session(ctx)
	if err != nil {
		return Page{}, err
	}

	body := &blogger.Page{
		Kind:    "blogger#page",
		Title:   in.Title,
		Content: in.Content,
		Status:  string(statusFor(in.Draft)),
	}
	p, err := s.svc.Pages.Insert(blogID, body).IsDraft(in.Draft).Context(ctx).Do()
	if err != nil {
		return Page{}, &APIError{Op: "pages.insert", Err: err}
	}
	c.log.Info().Str("page", p.Id).Str("status", p.Status).Msg("created page")
	return pageFromAPI(p), nil
}

func (c *Client) UpdatePage(ctx context.Context, blogID, pageID string, in PageInput) (Page, error) {
	if err := validateContent(in.Title, in.Content); err != nil {
		return Page{}, err
	}
	s, err := c.session(ctx)
	if err != nil {
		return Page{}, err
	}

	body := &blogger.Page{
		Kind:    "blogger#page",
		Title:   in.Title,
		Content: in.Content,
	}
	p, err := s.svc.Pages.Update(blogID, pageID, body).Context(ctx).Do()
	if err != nil {
		return Page{}, &APIError{Op: "pages.update", Err: err}
	}
	c.log.Info().Str("page", p.Id).Msg("updated page")
	return pageFromAPI(p), nil
}

// DeletePage reports whether the page was deleted. The failure cause is
// logged, never returned.
func (c *Client) DeletePage(ctx context.Context, blogID, pageID string) bool {
	s, err := c.session(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("page", pageID).Msg("can't delete page")
		return false
	}
	if err := s.svc.Pages.Delete(blogID, pageID).Context(ctx).Do(); err != nil {
		c.log.Error().Err(&APIError{Op: "pages.delete", Err: err}).Str("page", pageID).Msg("can't delete page")
		return false
	}
	return true
}
