package progress

// Metric - оконная метрика для челленджей и лидербордов.
type Metric string

const (
	MetricXP             Metric = "xp"
	MetricBooks          Metric = "books"
	MetricMinutes        Metric = "minutes"
	MetricPages          Metric = "pages"
	MetricReviews        Metric = "reviews"
	MetricStreakDays     Metric = "streak_days"
	MetricDistinctGenres Metric = "distinct_genres"
)

// IsValid сообщает, известна ли метрика.
func (m Metric) IsValid() bool {
	switch m {
	case MetricXP, MetricBooks, MetricMinutes, MetricPages, MetricReviews,
		MetricStreakDays, MetricDistinctGenres:
		return true
	}
	return false
}

// IsChallengeMetric - метрики, допустимые для челленджей.
func (m Metric) IsChallengeMetric() bool {
	switch m {
	case MetricBooks, MetricMinutes, MetricStreakDays, MetricDistinctGenres:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (m Metric) String() string {
	return string(m)
}
