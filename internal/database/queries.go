package database

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	friendRequestQuery = "SELECT fr.id, fr.from_id, f.username, fr.to_id, t.username, fr.status, fr.created_at, fr.updated_at " +
		"FROM friend_requests fr JOIN accounts f ON f.id = fr.from_id JOIN accounts t ON t.id = fr.to_id "
	bookQuery = "SELECT id, title, author, cover_url, total_pages, status, status_message, error, created_at, updated_at FROM books "

	// friends-only messages are visible to their sender and the sender's friends
	messagesQuery = "SELECT m.id, m.conversation_id, m.sender_id, a.username, a.avatar, m.content, m.friends_only, m.client_id, m.created_at " +
		"FROM messages m JOIN accounts a ON a.id = m.sender_id " +
		"WHERE m.conversation_id = $1 AND m.created_at < $2 " +
		"AND (NOT m.friends_only OR m.sender_id = $3 OR EXISTS (" +
		"SELECT 1 FROM friendships f WHERE f.account_id = $3 AND f.friend_id = m.sender_id)) " +
		"ORDER BY m.created_at DESC LIMIT $4"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, avatar, email, created_at, updated_at",
		params.Id,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.Avatar,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(id string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, avatar, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Avatar,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, avatar, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Avatar,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) SearchAccounts(query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, username, avatar FROM accounts WHERE username ILIKE '%' || $1 || '%' ORDER BY username LIMIT $2",
		query,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

func (db *PgRepository) ListFriends(userId string) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.username, a.avatar FROM friendships f "+
			"JOIN accounts a ON a.id = f.friend_id WHERE f.account_id = $1 ORDER BY a.username",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgRepository) AreFriends(userId, otherId string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM friendships WHERE account_id = $1 AND friend_id = $2)",
		userId,
		otherId,
	).Scan(&exists)

	return exists, err
}

func (db *PgRepository) CreateFriendRequest(params CreateFriendRequestParams) (FriendRequest, error) {
	now := time.Now().UTC()
	_, err := db.conn.Exec(
		"INSERT INTO friend_requests (id, from_id, to_id, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		params.Id,
		params.FromId,
		params.ToId,
		RequestPending,
		now,
	)
	if err != nil {
		return FriendRequest{}, err
	}

	return db.GetFriendRequest(params.Id)
}

func scanFriendRequest(s interface{ Scan(...any) error }) (FriendRequest, error) {
	var fr FriendRequest
	err := s.Scan(
		&fr.Id,
		&fr.FromId,
		&fr.FromUsername,
		&fr.ToId,
		&fr.ToUsername,
		&fr.Status,
		&fr.CreatedAt,
		&fr.UpdatedAt,
	)

	return fr, err
}

func (db *PgRepository) GetFriendRequest(id string) (FriendRequest, error) {
	return scanFriendRequest(db.conn.QueryRow(friendRequestQuery+"WHERE fr.id = $1", id))
}

// ListFriendRequests returns the pending requests sent to userId.
func (db *PgRepository) ListFriendRequests(userId string) ([]FriendRequest, error) {
	rows, err := db.conn.Query(
		friendRequestQuery+"WHERE fr.to_id = $1 AND fr.status = $2 ORDER BY fr.created_at DESC",
		userId,
		RequestPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]FriendRequest, 0)
	for rows.Next() {
		fr, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, fr)
	}

	return requests, rows.Err()
}

// UpdateFriendRequest sets the status of a request. Accepting it records
// the friendship in both directions in the same transaction.
func (db *PgRepository) UpdateFriendRequest(id, status string) (FriendRequest, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return FriendRequest{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var fromId, toId string
	err = tx.QueryRow(
		"UPDATE friend_requests SET status = $2, updated_at = $3 WHERE id = $1 RETURNING from_id, to_id",
		id,
		status,
		time.Now().UTC(),
	).Scan(&fromId, &toId)
	if err != nil {
		return FriendRequest{}, err
	}

	if status == RequestAccepted {
		_, err = tx.Exec(
			"INSERT INTO friendships (account_id, friend_id) VALUES ($1, $2), ($2, $1) ON CONFLICT DO NOTHING",
			fromId,
			toId,
		)
		if err != nil {
			return FriendRequest{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return FriendRequest{}, err
	}

	return db.GetFriendRequest(id)
}

func (db *PgRepository) CreateInvitation(params CreateInvitationParams) (Invitation, error) {
	res := db.conn.QueryRow(
		"INSERT INTO invitations (code, book_id, from_id, to_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING code, book_id, from_id, to_id, created_at",
		params.Code,
		params.BookId,
		params.FromId,
		params.ToId,
		time.Now().UTC(),
	)

	var inv Invitation
	err := res.Scan(
		&inv.Code,
		&inv.BookId,
		&inv.FromId,
		&inv.ToId,
		&inv.CreatedAt,
	)

	return inv, err
}

func (db *PgRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	res := db.conn.QueryRow(
		"INSERT INTO notifications (id, account_id, kind, message, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, account_id, kind, message, created_at",
		params.Id,
		params.UserId,
		params.Kind,
		params.Message,
		time.Now().UTC(),
	)

	var n Notification
	err := res.Scan(
		&n.Id,
		&n.UserId,
		&n.Kind,
		&n.Message,
		&n.CreatedAt,
	)

	return n, err
}

func (db *PgRepository) ListNotifications(userId string) ([]Notification, error) {
	rows, err := db.conn.Query(
		"SELECT id, account_id, kind, message, created_at FROM notifications "+
			"WHERE account_id = $1 ORDER BY created_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// DeleteNotification removes a notification owned by userId. It returns
// sql.ErrNoRows when there is no such notification.
func (db *PgRepository) DeleteNotification(userId, id string) error {
	res, err := db.conn.Exec(
		"DELETE FROM notifications WHERE id = $1 AND account_id = $2",
		id,
		userId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgRepository) GetBook(id string) (Book, error) {
	var b Book
	err := db.conn.QueryRow(bookQuery+"WHERE id = $1 LIMIT 1", id).Scan(
		&b.Id,
		&b.Title,
		&b.Author,
		&b.CoverURL,
		&b.TotalPages,
		&b.Status,
		&b.StatusMessage,
		&b.Error,
		&b.CreatedAt,
		&b.UpdatedAt,
	)

	return b, err
}

// GetPages returns up to limit pages following the first offset pages.
// Page indices are 1-based.
func (db *PgRepository) GetPages(bookId string, offset, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT book_id, page_index, html FROM pages "+
			"WHERE book_id = $1 AND page_index > $2 ORDER BY page_index LIMIT $3",
		bookId,
		offset,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := make([]Page, 0, limit)
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.BookId, &p.Index, &p.HTML); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}

	return pages, rows.Err()
}

func (db *PgRepository) CreateMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, conversation_id, sender_id, content, friends_only, client_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		msg.FriendsOnly,
		msg.ClientId,
		msg.CreatedAt,
	)

	return err
}

// GetMessages returns up to limit messages of a conversation that viewerId
// may see, sent strictly before the given time, newest first.
func (db *PgRepository) GetMessages(conversationId, viewerId string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	rows, err := db.conn.Query(messagesQuery, conversationId, before, viewerId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderUsername,
			&msg.SenderAvatar,
			&msg.Content,
			&msg.FriendsOnly,
			&msg.ClientId,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
