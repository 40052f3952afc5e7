package db

type Poll struct {
	ID        int64
	Question  string
	CreatedAt int64
	Likes     int64
}

type PollOption struct {
	ID     int64
	PollID int64
	Text   string
	Votes  int64
}
