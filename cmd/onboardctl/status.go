package main

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/wizard"
	"github.com/spf13/cobra"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the logged-in user and verification status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			id, err := c.Status(ctx)
			if err != nil {
				return err
			}
			pairs := [][2]string{{"User", string(id)}}
			if st, err := c.KYCStatus(ctx); err != nil {
				pairs = append(pairs, [2]string{"Verification", errorStyle.Render(err.Error())})
			} else {
				pairs = append(pairs, [2]string{"Verification", verificationLabel(st)})
			}
			fmt.Fprintln(a.out, successMsg("Logged in."))
			fmt.Fprint(a.out, keyValues(pairs))
			return nil
		},
	}
}

func verificationLabel(st wizard.KYCStatus) string {
	switch {
	case st.Approved():
		return successStyle.Render("approved")
	case st.Status == "":
		return mutedStyle.Render("not started")
	case st.Result != "":
		return warnStyle.Render(st.Status + " (" + st.Result + ")")
	default:
		return warnStyle.Render(st.Status)
	}
}

// answerNames labels the stored answers printed by progress.
var answerNames = map[q.ID]string{
	q.QFirstName:     "First name",
	q.QLastName:      "Last name",
	q.QNationality:   "Nationality",
	q.QPhone:         "Phone",
	q.QIDType:        "ID type",
	q.QIDNumber:      "ID number",
	q.QDateOfBirth:   "Date of birth",
	q.QResidence:     "Residence",
	q.QNotUSCitizen:  "Not a US citizen",
	q.QEmployment:    "Employment",
	q.QIndustry:      "Industry",
	q.QExperience:    "Experience",
	q.QRiskTolerance: "Risk tolerance",
	q.QObjective:     "Objective",
	q.QCurrentStep:   "Current step",
	q.QReviewStatus:  "Review status",
	q.QReviewAnswer:  "Review result",
}

func (a *app) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the answers saved on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			sp, err := c.FetchProgress(ctx)
			if err != nil {
				return err
			}
			if len(sp.UserAnswers) == 0 {
				fmt.Fprintln(a.out, infoMsg("No answers saved yet."))
				return nil
			}
			answers := slices.Clone(sp.UserAnswers)
			slices.SortStableFunc(answers, func(x, y q.UserAnswer) int {
				// Numeric ids: shorter sorts first.
				return cmp.Or(cmp.Compare(len(x.QuestionID), len(y.QuestionID)),
					strings.Compare(string(x.QuestionID), string(y.QuestionID)))
			})
			var pairs [][2]string
			for _, ans := range answers {
				name, ok := answerNames[ans.QuestionID]
				if !ok {
					name = "Question " + string(ans.QuestionID)
				}
				pairs = append(pairs, [2]string{name, ans.Text})
			}
			fmt.Fprint(a.out, keyValues(pairs))
			return nil
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an identity verification access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			tok, err := c.KYCToken(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tok)
			return nil
		},
	}
}
