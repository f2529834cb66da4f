package cli

import "quiz-session-service/internal/domain"

// sampleLessons backs the in-memory loader and the seed command.
func sampleLessons() []domain.Lesson {
	return []domain.Lesson{
		{
			ID:               1,
			Title:            "Greetings",
			TimeLimitSeconds: 300,
			Questions: []domain.Question{
				{
					ID:     101,
					Type:   domain.QuestionSingleChoice,
					Prompt: "Which phrase is a polite greeting in the morning?",
					Options: []domain.Option{
						{ID: 1011, Text: "Good morning", Correct: true},
						{ID: 1012, Text: "Good night"},
						{ID: 1013, Text: "See you"},
					},
				},
				{
					ID:         102,
					Type:       domain.QuestionSingleChoice,
					Prompt:     "Pick the best reply to \"How are you?\"",
					GuideSteps: "Answer the question, then return it.",
					Options: []domain.Option{
						{ID: 1021, Text: "I am fine, thanks. And you?", Correct: true},
						{ID: 1022, Text: "I am twenty."},
						{ID: 1023, Text: "Yes, please."},
					},
				},
				{
					ID:            103,
					Type:          domain.QuestionOpenAnswer,
					Prompt:        "Type the word that completes: \"Nice to ___ you.\"",
					CorrectAnswer: "meet",
				},
			},
		},
		{
			ID:               2,
			Title:            "Fractions and decimals",
			TimeLimitSeconds: 600,
			BaseXP:           120,
			BaseGems:         60,
			Questions: []domain.Question{
				{
					ID:            201,
					Type:          domain.QuestionOpenAnswer,
					Prompt:        "Write 11/2 as a decimal.",
					Points:        15,
					CorrectAnswer: "5.5",
				},
				{
					ID:     202,
					Type:   domain.QuestionSingleChoice,
					Prompt: "Which is larger?",
					Options: []domain.Option{
						{ID: 2021, Text: "0.7"},
						{ID: 2022, Text: "3/4", Correct: true},
					},
				},
			},
		},
	}
}
